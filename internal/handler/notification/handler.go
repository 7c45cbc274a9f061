package notification

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notify-api/internal/handler"
	"github.com/jwalitptl/notify-api/internal/middleware"
	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/queue"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/validator"
)

// Handler exposes the enqueue and job management routes.
type Handler struct {
	dispatcher *queue.Dispatcher
	validator  validator.Validator
	logger     *logger.Logger
}

func NewHandler(dispatcher *queue.Dispatcher, v validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		validator:  v,
		logger:     log,
	}
}

type enqueueRequest struct {
	TenantID     string                   `json:"tenant_id" validate:"required"`
	Notification *model.NotificationInput `json:"notification" validate:"required"`
	Priority     int                      `json:"priority,omitempty"`
	MaxAttempts  int                      `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
}

type bulkEnqueueRequest struct {
	Items []enqueueRequest `json:"items" validate:"required,min=1,max=1000,dive"`
}

type scheduleRequest struct {
	enqueueRequest
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return false
	}
	if err := h.validator.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return false
	}
	return true
}

// tenantAllowed enforces the caller's tenant allow-list, when one is set.
func tenantAllowed(c *gin.Context, tenantID string) bool {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		return true
	}
	if !caller.MayAccess(tenantID) {
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("tenant not permitted for this application"))
		return false
	}
	return true
}

func (h *Handler) toQueued(c *gin.Context, req *enqueueRequest) model.QueuedNotification {
	return model.QueuedNotification{
		TenantID:     req.TenantID,
		AppID:        c.GetString(middleware.ContextAppID),
		Notification: req.Notification,
	}
}

func jobOptions(priority, maxAttempts int) *queue.JobOptions {
	if priority == 0 && maxAttempts == 0 {
		return nil
	}
	return &queue.JobOptions{Priority: priority, MaxAttempts: maxAttempts}
}

// Enqueue accepts a single notification into the immediate tier.
func (h *Handler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if !h.bind(c, &req) {
		return
	}
	if !tenantAllowed(c, req.TenantID) {
		return
	}

	hdl, err := h.dispatcher.AddImmediate(c.Request.Context(), h.toQueued(c, &req), jobOptions(req.Priority, req.MaxAttempts))
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(hdl))
}

// EnqueueBulk accepts a batch into the bulk tier as one job.
func (h *Handler) EnqueueBulk(c *gin.Context) {
	var req bulkEnqueueRequest
	if !h.bind(c, &req) {
		return
	}

	items := make([]model.QueuedNotification, len(req.Items))
	for i := range req.Items {
		if !tenantAllowed(c, req.Items[i].TenantID) {
			return
		}
		items[i] = h.toQueued(c, &req.Items[i])
	}

	hdl, err := h.dispatcher.AddBulk(c.Request.Context(), items, nil)
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(hdl))
}

// Schedule accepts a notification to be delivered at a future time.
func (h *Handler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if !h.bind(c, &req) {
		return
	}
	if !tenantAllowed(c, req.TenantID) {
		return
	}

	hdl, err := h.dispatcher.Schedule(c.Request.Context(), h.toQueued(c, &req.enqueueRequest),
		req.ScheduledAt, jobOptions(req.Priority, req.MaxAttempts))
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(hdl))
}

func (h *Handler) tierParam(c *gin.Context) (model.Tier, bool) {
	tier := model.Tier(c.Param("tier"))
	if !tier.Valid() {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("unknown queue tier"))
		return "", false
	}
	return tier, true
}

// JobStatus reports the state of a job. Unknown ids answer 200 with
// status not_found; only a transport failure is an error.
func (h *Handler) JobStatus(c *gin.Context) {
	tier, ok := h.tierParam(c)
	if !ok {
		return
	}

	view, err := h.dispatcher.JobStatus(c.Request.Context(), tier, c.Param("id"))
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view))
}

// CancelJob removes a job that has not started processing.
func (h *Handler) CancelJob(c *gin.Context) {
	tier, ok := h.tierParam(c)
	if !ok {
		return
	}

	cancelled, err := h.dispatcher.Cancel(c.Request.Context(), tier, c.Param("id"))
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, handler.NewErrorResponse("job already started or does not exist"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"cancelled": true}))
}

func (h *Handler) QueueStats(c *gin.Context) {
	tier, ok := h.tierParam(c)
	if !ok {
		return
	}

	stats, err := h.dispatcher.Stats(c.Request.Context(), tier)
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
