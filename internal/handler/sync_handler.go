package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SyncNotifications folds the queued notifications into the ledger
func (h *Handlers) SyncNotifications(c *gin.Context) {
	h.runSync(c, "notifications", h.sync.ProcessNotifications)
}

// SyncFullPull reconciles every mailbox against a fresh source listing
func (h *Handlers) SyncFullPull(c *gin.Context) {
	h.runSync(c, "full pull", h.sync.PerformFullPull)
}

// SyncReconcile reconciles the ledger against the remote scheduling service
func (h *Handlers) SyncReconcile(c *gin.Context) {
	h.runSync(c, "reconcile", h.sync.SynchronizeCalendarEvents)
}

// SyncDispatch sends the pending ledger entries of one mailbox
func (h *Handlers) SyncDispatch(c *gin.Context) {
	mailbox := normalizeAddress(c.Param("mailbox"))
	h.runSync(c, "dispatch", func(ctx context.Context) error {
		return h.sync.UpdatePendingLedgerEntries(ctx, mailbox)
	})
}

func (h *Handlers) runSync(c *gin.Context, name string, fn func(ctx context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		h.log.WithError(err).WithField("operation", name).Error("Manual synchronization failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sync_error",
			Message: "Failed to run " + name + ": " + err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Synchronization " + name + " completed successfully",
	})
}
