package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"calendar-ledger-sync/internal/repository"
)

// GetEvents lists the ledger heads of a mailbox
func (h *Handlers) GetEvents(c *gin.Context) {
	mailbox := normalizeAddress(c.Query("mailbox"))
	if mailbox == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "The mailbox query parameter is required",
			Code:    http.StatusBadRequest,
		})
		return
	}
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("include_deleted", "false"))

	events, err := h.repo.ListEvents(c.Request.Context(), mailbox, includeDeleted)
	if err != nil {
		databaseError(c, "Failed to fetch events")
		return
	}

	responses := make([]EventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, eventResponse(&events[i]))
	}

	c.JSON(http.StatusOK, responses)
}

// GetEventEntries returns the full ledger history of an event
func (h *Handlers) GetEventEntries(c *gin.Context) {
	id, ok := parseID(c, "event")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	event, err := h.repo.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFoundError(c, "Event not found")
			return
		}
		databaseError(c, "Failed to fetch event")
		return
	}

	entries, err := h.repo.EntriesForEvent(ctx, id)
	if err != nil {
		databaseError(c, "Failed to fetch entries")
		return
	}

	responses := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		responses = append(responses, entryResponse(&entries[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"event":   eventResponse(event),
		"entries": responses,
	})
}
