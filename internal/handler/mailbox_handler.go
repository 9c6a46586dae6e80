package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/repository"
)

// GetMailboxes returns all synchronized mailboxes
func (h *Handlers) GetMailboxes(c *gin.Context) {
	mailboxes, err := h.repo.ListMailboxes(c.Request.Context())
	if err != nil {
		databaseError(c, "Failed to fetch mailboxes")
		return
	}

	responses := make([]MailboxResponse, 0, len(mailboxes))
	for i := range mailboxes {
		responses = append(responses, mailboxResponse(&mailboxes[i]))
	}

	c.JSON(http.StatusOK, responses)
}

// CreateMailbox registers a mailbox for synchronization
func (h *Handlers) CreateMailbox(c *gin.Context) {
	var req MailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	ctx := c.Request.Context()
	address := normalizeAddress(req.Address)
	if h.addressTaken(c, address, 0) {
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	mailbox := model.Mailbox{
		Address: address,
		Group:   req.Group,
		Enabled: enabled,
	}

	if err := h.repo.CreateMailbox(ctx, &mailbox); err != nil {
		databaseError(c, "Failed to create mailbox")
		return
	}
	h.refresh(ctx)

	c.JSON(http.StatusCreated, mailboxResponse(&mailbox))
}

// GetMailbox returns a specific mailbox
func (h *Handlers) GetMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	mailbox, ok := h.loadMailbox(c, id)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, mailboxResponse(mailbox))
}

// UpdateMailbox updates a mailbox
func (h *Handlers) UpdateMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	var req MailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	mailbox, ok := h.loadMailbox(c, id)
	if !ok {
		return
	}

	address := normalizeAddress(req.Address)
	if h.addressTaken(c, address, mailbox.ID) {
		return
	}

	mailbox.Address = address
	mailbox.Group = req.Group
	if req.Enabled != nil {
		mailbox.Enabled = *req.Enabled
	}

	ctx := c.Request.Context()
	if err := h.repo.UpdateMailbox(ctx, mailbox); err != nil {
		databaseError(c, "Failed to update mailbox")
		return
	}
	h.refresh(ctx)

	c.JSON(http.StatusOK, mailboxResponse(mailbox))
}

// DeleteMailbox removes a mailbox from synchronization. Its ledger is kept.
func (h *Handlers) DeleteMailbox(c *gin.Context) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.repo.DeleteMailbox(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFoundError(c, "Mailbox not found")
			return
		}
		databaseError(c, "Failed to delete mailbox")
		return
	}
	h.refresh(ctx)

	c.JSON(http.StatusOK, gin.H{"message": "Mailbox deleted successfully"})
}

// EnableMailbox enables a mailbox
func (h *Handlers) EnableMailbox(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableMailbox disables a mailbox
func (h *Handlers) DisableMailbox(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *Handlers) setEnabled(c *gin.Context, enabled bool) {
	id, ok := parseID(c, "mailbox")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	mailbox, err := h.repo.SetMailboxEnabled(ctx, id, enabled)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFoundError(c, "Mailbox not found")
			return
		}
		databaseError(c, "Failed to update mailbox")
		return
	}
	h.refresh(ctx)

	c.JSON(http.StatusOK, mailboxResponse(mailbox))
}

func (h *Handlers) loadMailbox(c *gin.Context, id uint) (*model.Mailbox, bool) {
	mailbox, err := h.repo.GetMailbox(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFoundError(c, "Mailbox not found")
			return nil, false
		}
		databaseError(c, "Failed to fetch mailbox")
		return nil, false
	}
	return mailbox, true
}

// addressTaken writes a 409 response when address belongs to a mailbox other
// than self
func (h *Handlers) addressTaken(c *gin.Context, address string, self uint) bool {
	existing, err := h.repo.GetMailboxByAddress(c.Request.Context(), address)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return false
	case err != nil:
		databaseError(c, "Failed to check mailbox address")
		return true
	case existing.ID == self:
		return false
	}
	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   "conflict",
		Message: "Mailbox address already registered",
		Code:    http.StatusConflict,
	})
	return true
}

// refresh reloads the subscription registry after a mailbox change
func (h *Handlers) refresh(ctx context.Context) {
	if _, err := h.sync.RefreshSubscriptions(ctx); err != nil {
		h.log.WithError(err).Warn("Failed to refresh subscriptions")
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
