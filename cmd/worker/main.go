package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-api/internal/config"
	"github.com/jwalitptl/notify-api/internal/queue"
	"github.com/jwalitptl/notify-api/internal/queue/redisq"
	"github.com/jwalitptl/notify-api/internal/realtime"
	"github.com/jwalitptl/notify-api/internal/repository/postgres"
	notificationservice "github.com/jwalitptl/notify-api/internal/service/notification"
	"github.com/jwalitptl/notify-api/internal/webhook"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/notify-api/pkg/messaging/redis"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// workerEnv overrides pool sizing per deployment without touching the
// shared config file.
type workerEnv struct {
	HealthPort           int `envconfig:"HEALTH_PORT" default:"8081"`
	ImmediateConcurrency int `envconfig:"IMMEDIATE_CONCURRENCY"`
	BulkConcurrency      int `envconfig:"BULK_CONCURRENCY"`
	ScheduledConcurrency int `envconfig:"SCHEDULED_CONCURRENCY"`
}

// newHealthMux serves liveness, readiness and the worker's metrics on
// one sidecar port.
func newHealthMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

func serveHealth(port int, mux *http.ServeMux, log *logger.Logger) {
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Fatal(err, "health check server failed")
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var env workerEnv
	if err := envconfig.Process("worker", &env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read worker environment: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Logging.ToLoggerConfig())
	registry := prometheus.NewRegistry()
	m := metrics.New("notify_worker")
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

	// Workers hold no websocket connections themselves; the bus carries
	// their broadcasts to the API processes that do.
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

	notificationRepo := postgres.NewNotificationRepository(db)
	subscriberRepo := postgres.NewSubscriberRepository(db)

	webhookSvc := webhook.NewService(subscriberRepo, cfg.Webhook.ToDeliveryConfig(), log, m)
	notificationSvc := notificationservice.NewService(notificationRepo, hub, webhookSvc, log)

	queueCfg := cfg.Queue.ToDispatcherConfig()
	if env.ImmediateConcurrency > 0 {
		queueCfg.Immediate.Concurrency = env.ImmediateConcurrency
	}
	if env.BulkConcurrency > 0 {
		queueCfg.Bulk.Concurrency = env.BulkConcurrency
	}
	if env.ScheduledConcurrency > 0 {
		queueCfg.Scheduled.Concurrency = env.ScheduledConcurrency
	}

	dispatcher := queue.NewDispatcher(redisq.New(rdb), notificationSvc, queueCfg, log, m)

	serveHealth(env.HealthPort, newHealthMux(registry), log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	dispatcher.Start(ctx)
	log.Info("worker started", "health_port", env.HealthPort)

	<-sigChan
	log.Info("shutting down worker")
	cancel()
	dispatcher.Stop()
	log.Info("worker exited")
}
