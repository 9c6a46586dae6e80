package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/repository"
	"calendar-ledger-sync/internal/scheduler"
)

// Syncer is the part of the sync service the API exposes
type Syncer interface {
	RecordNotification(ctx context.Context, n *model.Notification) error
	MailboxForSubscription(ctx context.Context, id string) (string, error)
	RefreshSubscriptions(ctx context.Context) ([]string, error)
	ProcessNotifications(ctx context.Context) error
	PerformFullPull(ctx context.Context) error
	SynchronizeCalendarEvents(ctx context.Context) error
	UpdatePendingLedgerEntries(ctx context.Context, mailbox string) error
}

// Scheduler controls the periodic jobs
type Scheduler interface {
	Start() error
	Stop() error
	IsRunning() bool
	RunOnce(ctx context.Context, job string) error
	Status() []scheduler.JobStatus
	GetNextRun() time.Time
	GetLastRun() time.Time
}

// Handlers contains all HTTP handlers
type Handlers struct {
	repo      *repository.Repository
	sync      Syncer
	scheduler Scheduler
	gatherer  prometheus.Gatherer
	log       logrus.FieldLogger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(repo *repository.Repository, sync Syncer, sched Scheduler, gatherer prometheus.Gatherer, log logrus.FieldLogger) *Handlers {
	return &Handlers{
		repo:      repo,
		sync:      sync,
		scheduler: sched,
		gatherer:  gatherer,
		log:       log,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/mailboxes", h.GetMailboxes)
		api.POST("/mailboxes", h.CreateMailbox)
		api.GET("/mailboxes/:id", h.GetMailbox)
		api.PUT("/mailboxes/:id", h.UpdateMailbox)
		api.DELETE("/mailboxes/:id", h.DeleteMailbox)
		api.PATCH("/mailboxes/:id/enable", h.EnableMailbox)
		api.PATCH("/mailboxes/:id/disable", h.DisableMailbox)

		api.POST("/notifications", h.PushNotification)
		api.GET("/notification-logs", h.GetNotificationLogs)
		api.GET("/notification-logs/:id", h.GetNotificationLog)

		api.GET("/events", h.GetEvents)
		api.GET("/events/:id/entries", h.GetEventEntries)

		api.POST("/sync/notifications", h.SyncNotifications)
		api.POST("/sync/full-pull", h.SyncFullPull)
		api.POST("/sync/reconcile", h.SyncReconcile)
		api.POST("/sync/dispatch/:mailbox", h.SyncDispatch)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: make(map[string]string),
	}

	if err := h.pingDatabase(c.Request.Context()); err != nil {
		response.Status = "error"
		response.Database = "error"
		h.log.WithError(err).Error("Database health check failed")
	}

	if h.scheduler.IsRunning() {
		response.Scheduler["state"] = "running"
		response.Scheduler["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Scheduler["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Scheduler["state"] = "stopped"
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *Handlers) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.repo.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// parseID reads the :id path parameter, writing a 400 response on failure
func parseID(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + what + " ID",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

// pagination reads page and limit query parameters
func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return page, limit, (page - 1) * limit
}

func databaseError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "database_error",
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}

func notFoundError(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: message,
		Code:    http.StatusNotFound,
	})
}
