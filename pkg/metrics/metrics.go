package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Queue dispatcher metrics
	JobsProcessed        *prometheus.CounterVec
	JobsFailed           *prometheus.CounterVec
	JobRetries           *prometheus.CounterVec
	JobProcessingLatency *prometheus.HistogramVec
	QueueDepth           *prometheus.GaugeVec

	// Webhook delivery metrics
	WebhookAttempts *prometheus.CounterVec
	WebhookLatency  prometheus.Histogram

	// Realtime broadcast metrics
	BroadcastsSent     prometheus.Counter
	BroadcastsDropped  prometheus.Counter
	ActiveConnections  prometheus.Gauge

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// New creates unregistered application metrics. Callers register them
// via Register; tests can construct freely without collisions.
func New(namespace string) *Metrics {
	return &Metrics{
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of successfully processed jobs",
		}, []string{"tier"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of terminally failed jobs",
		}, []string{"tier"}),
		JobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retry_attempts_total",
			Help:      "Total number of job retry attempts",
		}, []string{"tier"}),
		JobProcessingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_processing_duration_seconds",
			Help:      "Time spent processing a job",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tier"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of jobs per tier and state",
		}, []string{"tier", "state"}),

		WebhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_attempts_total",
			Help:      "Total number of webhook delivery attempts",
		}, []string{"event_type", "status"}),
		WebhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_request_duration_seconds",
			Help:      "Duration of outbound webhook requests",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		BroadcastsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_sent_total",
			Help:      "Total number of realtime pushes delivered",
		}),
		BroadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_dropped_total",
			Help:      "Total number of realtime pushes that failed to send",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Current number of open realtime channels",
		}),

		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter admission decisions",
		}, []string{"policy", "outcome"}),

		RedisOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redis_operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.JobsProcessed,
		m.JobsFailed,
		m.JobRetries,
		m.JobProcessingLatency,
		m.QueueDepth,
		m.WebhookAttempts,
		m.WebhookLatency,
		m.BroadcastsSent,
		m.BroadcastsDropped,
		m.ActiveConnections,
		m.RateLimitDecisions,
		m.RedisOperations,
	)
}
