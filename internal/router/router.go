package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	healthhandler "github.com/jwalitptl/notify-api/internal/handler/health"
	notificationhandler "github.com/jwalitptl/notify-api/internal/handler/notification"
	webhookhandler "github.com/jwalitptl/notify-api/internal/handler/webhook"
	"github.com/jwalitptl/notify-api/internal/middleware"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/realtime"
)

// Deps carries everything the HTTP surface needs wired in.
type Deps struct {
	Health       *healthhandler.Handler
	Notification *notificationhandler.Handler
	Webhook      *webhookhandler.Handler
	WS           *realtime.WSHandler
	Auth         *middleware.AuthMiddleware
	RateLimiter  *middleware.RateLimiter
	Registry     *prometheus.Registry
}

// New assembles the gin engine: ambient middleware, liveness and
// metrics endpoints, the websocket upgrade, and the authenticated,
// rate-limited v1 API.
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())

	deps.Health.RegisterRoutes(r)
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// The websocket endpoint authenticates via query parameters; browser
	// clients cannot set API-key headers on upgrade requests.
	r.GET("/ws", deps.WS.ServeWS)

	v1 := r.Group("/api/v1")
	v1.Use(deps.Auth.Authenticate())
	v1.Use(deps.RateLimiter.Limit(ratelimit.PerApplication, middleware.KeyFromAPIKey))

	notifications := v1.Group("/notifications")
	notifications.Use(deps.RateLimiter.Limit(ratelimit.PerTenant, middleware.KeyFromTenant))
	notifications.POST("", deps.Notification.Enqueue)
	notifications.POST("/schedule", deps.Notification.Schedule)
	notifications.POST("/bulk",
		deps.RateLimiter.Limit(ratelimit.BulkOperation, middleware.KeyFromAPIKey),
		deps.Notification.EnqueueBulk)

	jobs := v1.Group("/jobs")
	jobs.GET("/:tier/:id", deps.Notification.JobStatus)
	jobs.DELETE("/:tier/:id", deps.Notification.CancelJob)

	v1.GET("/queues/:tier/stats", deps.Notification.QueueStats)

	deps.Webhook.RegisterRoutes(v1)

	return r
}
