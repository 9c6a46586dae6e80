package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/notify"
	"calendar-ledger-sync/internal/repository"
)

// PushNotification queues a change signal pushed by the calendar provider
func (h *Handlers) PushNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.SubscriptionID == "" && req.Mailbox == "") || (req.ItemID == "" && req.ICalUID == "") {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "A subscription id or mailbox and an item id or ical uid are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	ctx := c.Request.Context()
	mailbox := req.Mailbox
	if req.SubscriptionID != "" {
		resolved, err := h.sync.MailboxForSubscription(ctx, req.SubscriptionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				notFoundError(c, "Subscription not found")
				return
			}
			databaseError(c, "Failed to resolve subscription")
			return
		}
		mailbox = resolved
	}

	n := model.Notification{
		Mailbox: mailbox,
		ItemID:  req.ItemID,
		ICalUID: req.ICalUID,
	}
	if err := h.sync.RecordNotification(ctx, &n); err != nil {
		if errors.Is(err, notify.ErrUnknownMailbox) {
			notFoundError(c, "Mailbox is not synchronized")
			return
		}
		databaseError(c, "Failed to queue notification")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      n.ID,
		"mailbox": n.Mailbox,
		"message": "Notification queued",
	})
}

// GetNotificationLogs returns archived notifications with pagination
func (h *Handlers) GetNotificationLogs(c *gin.Context) {
	page, limit, offset := pagination(c)
	mailbox := normalizeAddress(c.Query("mailbox"))

	logs, total, err := h.repo.ListNotificationLogs(c.Request.Context(), mailbox, limit, offset)
	if err != nil {
		databaseError(c, "Failed to fetch notification logs")
		return
	}

	responses := make([]NotificationLogResponse, 0, len(logs))
	for i := range logs {
		responses = append(responses, notificationLogResponse(&logs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": responses,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetNotificationLog returns a specific archived notification
func (h *Handlers) GetNotificationLog(c *gin.Context) {
	id, ok := parseID(c, "log")
	if !ok {
		return
	}

	log, err := h.repo.GetNotificationLog(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFoundError(c, "Log not found")
			return
		}
		databaseError(c, "Failed to fetch log")
		return
	}

	c.JSON(http.StatusOK, notificationLogResponse(log))
}
