package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-api/internal/config"
	healthhandler "github.com/jwalitptl/notify-api/internal/handler/health"
	notificationhandler "github.com/jwalitptl/notify-api/internal/handler/notification"
	webhookhandler "github.com/jwalitptl/notify-api/internal/handler/webhook"
	"github.com/jwalitptl/notify-api/internal/middleware"
	"github.com/jwalitptl/notify-api/internal/queue"
	"github.com/jwalitptl/notify-api/internal/queue/redisq"
	"github.com/jwalitptl/notify-api/internal/ratelimit"
	"github.com/jwalitptl/notify-api/internal/realtime"
	"github.com/jwalitptl/notify-api/internal/repository/postgres"
	"github.com/jwalitptl/notify-api/internal/router"
	notificationservice "github.com/jwalitptl/notify-api/internal/service/notification"
	"github.com/jwalitptl/notify-api/internal/webhook"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/notify-api/pkg/messaging/redis"
	"github.com/jwalitptl/notify-api/pkg/metrics"
	"github.com/jwalitptl/notify-api/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Logging.ToLoggerConfig())

	registry := prometheus.NewRegistry()
	m := metrics.New("notify")
	m.Register(registry)

	db, err := postgres.NewDB(cfg.Database.DSN())
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal(err, "invalid redis URL")
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal(err, "failed to connect to redis")
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The API process holds websocket connections; the bus brings it
	// broadcasts originating in worker processes.
	var bus messaging.Broker
	if cfg.Realtime.BusEnabled {
		bus, err = redisbroker.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log)
		if err != nil {
			log.Fatal(err, "failed to connect broadcast bus")
		}
		defer bus.Close()
	}

	hubOpts := []realtime.Option{realtime.WithInstanceID(cfg.Realtime.InstanceID)}
	if bus != nil {
		hubOpts = append(hubOpts, realtime.WithBus(bus))
	}
	hub := realtime.NewHub(log, m, hubOpts...)
	if err := hub.Start(ctx); err != nil {
		log.Fatal(err, "failed to start realtime hub")
	}

	notificationRepo := postgres.NewNotificationRepository(db)
	subscriberRepo := postgres.NewSubscriberRepository(db)
	apiKeyRepo := postgres.NewAPIKeyRepository(db)

	webhookSvc := webhook.NewService(subscriberRepo, cfg.Webhook.ToDeliveryConfig(), log, m)
	notificationSvc := notificationservice.NewService(notificationRepo, hub, webhookSvc, log)

	dispatcher := queue.NewDispatcher(redisq.New(rdb), notificationSvc, cfg.Queue.ToDispatcherConfig(), log, m)

	limiter := ratelimit.New(rdb, cfg.RateLimit.ToLimiterConfig(), log, m)
	v := validator.New()

	r := router.New(router.Deps{
		Health:       healthhandler.NewHandler(db, rdb),
		Notification: notificationhandler.NewHandler(dispatcher, v, log),
		Webhook:      webhookhandler.NewHandler(subscriberRepo, v, log),
		WS:           realtime.NewWSHandler(hub, log),
		Auth:         middleware.NewAuthMiddleware(apiKeyRepo),
		RateLimiter:  middleware.NewRateLimiter(limiter, m),
		Registry:     registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	log.Info("server exited")
}
