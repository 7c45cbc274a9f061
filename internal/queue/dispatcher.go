package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notify-api/internal/model"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// MaxBulkSize bounds one bulk enqueue request.
const MaxBulkSize = 1000

// Sink processes one notification: durable record creation, realtime
// fan-out, webhook notify. Implemented by the notification service.
type Sink interface {
	Deliver(ctx context.Context, n model.QueuedNotification) (*model.NotificationRecord, error)
}

// TierConfig tunes one queue lane. The pools are deliberately separate
// and independently tunable; immediate work must not starve behind
// bulk work and vice versa.
type TierConfig struct {
	Concurrency int
	MaxAttempts int
}

type Config struct {
	Immediate TierConfig
	Bulk      TierConfig
	Scheduled TierConfig

	// ChunkSize splits bulk batches into concurrently processed
	// sub-batches.
	ChunkSize int

	// BackoffBase is scaled by 2^attempt between retries.
	BackoffBase time.Duration

	PromoteInterval time.Duration
	DequeueWait     time.Duration
}

func (c *Config) withDefaults() {
	if c.Immediate.Concurrency <= 0 {
		c.Immediate.Concurrency = 10
	}
	if c.Immediate.MaxAttempts <= 0 {
		c.Immediate.MaxAttempts = 3
	}
	if c.Bulk.Concurrency <= 0 {
		c.Bulk.Concurrency = 5
	}
	if c.Bulk.MaxAttempts <= 0 {
		// Bulk retries are expensive, so fewer attempts.
		c.Bulk.MaxAttempts = 2
	}
	if c.Scheduled.Concurrency <= 0 {
		c.Scheduled.Concurrency = 2
	}
	if c.Scheduled.MaxAttempts <= 0 {
		c.Scheduled.MaxAttempts = 3
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 100
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = time.Second
	}
	if c.DequeueWait <= 0 {
		c.DequeueWait = time.Second
	}
}

// JobOptions override per-job defaults.
type JobOptions struct {
	Priority    int
	MaxAttempts int
}

// JobHandle identifies an enqueued job to the caller.
type JobHandle struct {
	ID   string     `json:"id"`
	Tier model.Tier `json:"tier"`
}

// Dispatcher decouples callers from notification processing. Each tier
// runs its own fixed pool of workers against the shared broker;
// delivery is at-least-once and duplicate records created by retried
// jobs are not deduplicated here.
type Dispatcher struct {
	broker  Broker
	sink    Sink
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock injects a time source, for deterministic scheduling tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(broker Broker, sink Sink, cfg Config, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	cfg.withDefaults()
	d := &Dispatcher{
		broker:  broker,
		sink:    sink,
		cfg:     cfg,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) tierConfig(tier model.Tier) TierConfig {
	switch tier {
	case model.TierBulk:
		return d.cfg.Bulk
	case model.TierScheduled:
		return d.cfg.Scheduled
	default:
		return d.cfg.Immediate
	}
}

func (d *Dispatcher) newJob(tier model.Tier, payload model.JobPayload, opts *JobOptions) *model.Job {
	tc := d.tierConfig(tier)
	job := &model.Job{
		ID:          uuid.NewString(),
		Tier:        tier,
		Payload:     payload,
		MaxAttempts: tc.MaxAttempts,
		Status:      model.JobStatusWaiting,
		CreatedAt:   d.now(),
	}
	if opts != nil {
		job.Priority = opts.Priority
		if opts.MaxAttempts > 0 {
			job.MaxAttempts = opts.MaxAttempts
		}
	}
	return job
}

// AddImmediate enqueues a single notification for fastest processing.
func (d *Dispatcher) AddImmediate(ctx context.Context, n model.QueuedNotification, opts *JobOptions) (*JobHandle, error) {
	if n.Notification == nil {
		return nil, apperrors.BadRequest("notification is required", nil)
	}
	job := d.newJob(model.TierImmediate, model.JobPayload{Single: &n}, opts)
	if err := d.broker.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return &JobHandle{ID: job.ID, Tier: job.Tier}, nil
}

// AddBulk enqueues a batch. The worker re-chunks it and processes each
// sub-batch concurrently; one item's failure never aborts the rest.
func (d *Dispatcher) AddBulk(ctx context.Context, items []model.QueuedNotification, opts *JobOptions) (*JobHandle, error) {
	if len(items) == 0 {
		return nil, apperrors.BadRequest("batch is empty", nil)
	}
	if len(items) > MaxBulkSize {
		return nil, apperrors.BadRequest(fmt.Sprintf("batch exceeds %d items", MaxBulkSize), nil)
	}
	job := d.newJob(model.TierBulk, model.JobPayload{Batch: items}, opts)
	if err := d.broker.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return &JobHandle{ID: job.ID, Tier: job.Tier}, nil
}

// Schedule enqueues a notification to run at scheduledAt. A time in
// the past is rejected synchronously; no job is created.
func (d *Dispatcher) Schedule(ctx context.Context, n model.QueuedNotification, scheduledAt time.Time, opts *JobOptions) (*JobHandle, error) {
	if n.Notification == nil {
		return nil, apperrors.BadRequest("notification is required", nil)
	}
	if !scheduledAt.After(d.now()) {
		return nil, apperrors.BadRequest("scheduled time is in the past", nil)
	}
	job := d.newJob(model.TierScheduled, model.JobPayload{Single: &n}, opts)
	job.ScheduledAt = &scheduledAt
	if err := d.broker.EnqueueDelayed(ctx, job, scheduledAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return &JobHandle{ID: job.ID, Tier: job.Tier}, nil
}

// JobStatus returns the read-only view of a job. Unknown or expired
// ids report not_found rather than an error.
func (d *Dispatcher) JobStatus(ctx context.Context, tier model.Tier, id string) (*model.JobView, error) {
	job, err := d.broker.Get(ctx, tier, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return &model.JobView{ID: id, Tier: tier, Status: model.JobStatusNotFound}, nil
		}
		return nil, err
	}
	return &model.JobView{
		ID:           job.ID,
		Tier:         job.Tier,
		Status:       job.Status,
		AttemptsMade: job.AttemptsMade,
		MaxAttempts:  job.MaxAttempts,
		LastError:    job.LastError,
		Progress:     job.Progress,
		Result:       job.Result,
	}, nil
}

// Cancel removes a job that has not started processing. Active jobs
// run to completion or exhaust their retries.
func (d *Dispatcher) Cancel(ctx context.Context, tier model.Tier, id string) (bool, error) {
	return d.broker.Cancel(ctx, tier, id)
}

func (d *Dispatcher) Stats(ctx context.Context, tier model.Tier) (model.QueueStats, error) {
	stats, err := d.broker.Stats(ctx, tier)
	if err != nil {
		return stats, err
	}
	if d.metrics != nil {
		d.metrics.QueueDepth.WithLabelValues(string(tier), "waiting").Set(float64(stats.Waiting))
		d.metrics.QueueDepth.WithLabelValues(string(tier), "active").Set(float64(stats.Active))
		d.metrics.QueueDepth.WithLabelValues(string(tier), "delayed").Set(float64(stats.Delayed))
	}
	return stats, nil
}

// Start launches the per-tier worker pools and the delayed-job
// promoter. It returns immediately; Stop waits for workers to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	pools := []struct {
		tier model.Tier
		n    int
	}{
		{model.TierImmediate, d.cfg.Immediate.Concurrency},
		{model.TierBulk, d.cfg.Bulk.Concurrency},
		{model.TierScheduled, d.cfg.Scheduled.Concurrency},
	}
	for _, p := range pools {
		for i := 0; i < p.n; i++ {
			d.wg.Add(1)
			go func(tier model.Tier) {
				defer d.wg.Done()
				d.worker(ctx, tier)
			}(p.tier)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.promoter(ctx)
	}()

	d.logger.Info("dispatcher started",
		"immediate_workers", d.cfg.Immediate.Concurrency,
		"bulk_workers", d.cfg.Bulk.Concurrency,
		"scheduled_workers", d.cfg.Scheduled.Concurrency)
}

// Stop cancels the pools and blocks until in-flight jobs finish.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, tier model.Tier) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.broker.Dequeue(ctx, tier, d.cfg.DequeueWait)
		if err != nil {
			if errors.Is(err, ErrNoJob) || errors.Is(err, context.Canceled) {
				continue
			}
			d.logger.Error(err, "failed to claim job", "tier", string(tier))
			continue
		}

		d.process(ctx, job)
	}
}

func (d *Dispatcher) promoter(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PromoteInterval)
	defer ticker.Stop()

	tiers := []model.Tier{model.TierImmediate, model.TierBulk, model.TierScheduled}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tier := range tiers {
				if _, err := d.broker.PromoteDue(ctx, tier, d.now()); err != nil {
					d.logger.Error(err, "failed to promote delayed jobs", "tier", string(tier))
				}
			}
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job *model.Job) {
	job.AttemptsMade++

	var timer *prometheus.Timer
	if d.metrics != nil {
		timer = prometheus.NewTimer(d.metrics.JobProcessingLatency.WithLabelValues(string(job.Tier)))
	}
	result, err := d.execute(ctx, job)
	if timer != nil {
		timer.ObserveDuration()
	}

	if err == nil {
		job.Result = result
		job.LastError = ""
		if ackErr := d.broker.Ack(ctx, job); ackErr != nil {
			d.logger.Error(ackErr, "failed to ack job", "job_id", job.ID)
		}
		if d.metrics != nil {
			d.metrics.JobsProcessed.WithLabelValues(string(job.Tier)).Inc()
		}
		return
	}

	job.LastError = err.Error()
	if job.Result == nil {
		job.Result = result
	}

	if job.AttemptsMade >= job.MaxAttempts {
		d.logger.Error(err, "job failed terminally",
			"job_id", job.ID, "tier", string(job.Tier), "attempts", job.AttemptsMade)
		if failErr := d.broker.Fail(ctx, job); failErr != nil {
			d.logger.Error(failErr, "failed to mark job failed", "job_id", job.ID)
		}
		if d.metrics != nil {
			d.metrics.JobsFailed.WithLabelValues(string(job.Tier)).Inc()
		}
		return
	}

	delay := d.cfg.BackoffBase * (1 << job.AttemptsMade)
	retryAt := d.now().Add(delay)
	d.logger.Warn("job attempt failed, scheduling retry",
		"job_id", job.ID, "tier", string(job.Tier),
		"attempt", job.AttemptsMade, "retry_in", delay.String(), "error", err.Error())
	if retryErr := d.broker.Retry(ctx, job, retryAt); retryErr != nil {
		d.logger.Error(retryErr, "failed to schedule retry", "job_id", job.ID)
	}
	if d.metrics != nil {
		d.metrics.JobRetries.WithLabelValues(string(job.Tier)).Inc()
	}
}

func (d *Dispatcher) execute(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	if job.Payload.Single != nil {
		job.Progress = &model.JobProgress{Total: 1}
		n := *job.Payload.Single
		n.SourceJobID = job.ID
		if _, err := d.sink.Deliver(ctx, n); err != nil {
			return &model.JobResult{Failed: 1}, err
		}
		job.Progress.Processed = 1
		return &model.JobResult{Succeeded: 1}, nil
	}
	batch := make([]model.QueuedNotification, len(job.Payload.Batch))
	for i, item := range job.Payload.Batch {
		item.SourceJobID = job.ID
		batch[i] = item
	}
	return d.executeBatch(ctx, job, batch)
}

// executeBatch re-chunks the batch and processes each chunk's items
// concurrently, collecting per-item outcomes. Progress is checkpointed
// to the broker at chunk boundaries so status polls see it move. The
// job only counts as failed when every single item failed; partial
// failure is a completed job whose result reports the failed indexes.
func (d *Dispatcher) executeBatch(ctx context.Context, job *model.Job, batch []model.QueuedNotification) (*model.JobResult, error) {
	result := &model.JobResult{}
	var mu sync.Mutex

	job.Progress = &model.JobProgress{Total: len(batch)}

	for start := 0; start < len(batch); start += d.cfg.ChunkSize {
		end := start + d.cfg.ChunkSize
		if end > len(batch) {
			end = len(batch)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int, item model.QueuedNotification) {
				defer wg.Done()
				_, err := d.sink.Deliver(ctx, item)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					result.Items = append(result.Items, model.BulkItemError{Index: idx, Error: err.Error()})
				} else {
					result.Succeeded++
				}
			}(i, batch[i])
		}
		wg.Wait()

		job.Progress.Processed = end
		// Checkpointing is best-effort; a failed write costs staleness,
		// not correctness.
		if err := d.broker.Update(ctx, job); err != nil {
			d.logger.Warn("failed to checkpoint job progress", "job_id", job.ID, "error", err.Error())
		}
	}

	if result.Succeeded == 0 && result.Failed > 0 {
		return result, fmt.Errorf("all %d batch items failed", result.Failed)
	}
	return result, nil
}
