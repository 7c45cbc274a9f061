package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notify-api/internal/handler"
	"github.com/jwalitptl/notify-api/internal/middleware"
	"github.com/jwalitptl/notify-api/internal/repository"
	"github.com/jwalitptl/notify-api/internal/webhook"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/validator"
)

const defaultAttemptListLimit = 50

// Handler exposes subscriber-facing webhook tooling: signature
// verification and the delivery audit trail.
type Handler struct {
	subs      repository.SubscriberRepository
	validator validator.Validator
	logger    *logger.Logger
}

func NewHandler(subs repository.SubscriberRepository, v validator.Validator, log *logger.Logger) *Handler {
	return &Handler{
		subs:      subs,
		validator: v,
		logger:    log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/verify", h.Verify)
		webhooks.GET("/attempts", h.ListAttempts)
	}
}

type verifyRequest struct {
	// Payload is the raw body as received, re-serialization would break
	// the signature.
	Payload   string `json:"payload" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// Verify lets a subscriber check its signature implementation against
// the secret registered for the calling application.
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid request body"))
		return
	}
	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	appID := c.GetString(middleware.ContextAppID)
	sub, err := h.subs.ResolveConfig(c.Request.Context(), appID)
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse("no webhook registration for application"))
		return
	}

	valid := webhook.VerifySignature([]byte(req.Payload), req.Signature, sub.Secret)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"valid": valid}))
}

// ListAttempts returns the calling application's recent delivery
// attempts, newest first.
func (h *Handler) ListAttempts(c *gin.Context) {
	appID := c.GetString(middleware.ContextAppID)

	attempts, err := h.subs.ListAttempts(c.Request.Context(), appID, defaultAttemptListLimit)
	if err != nil {
		c.JSON(handler.StatusFromError(err), handler.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(attempts))
}
