package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/notify-api/internal/model"
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrNoJob is returned by Dequeue when no job became available
	// within the wait window.
	ErrNoJob = errors.New("no job available")
)

// Broker is the durable job store capability the dispatcher is built
// on: enqueue, claim, ack/retry, delayed enqueue. The tiering, backoff
// and concurrency policy layer stays broker-agnostic so back-ends can
// be swapped.
//
// All state transitions must be atomic against the store; the broker
// may be shared by many processes.
type Broker interface {
	// Enqueue makes the job visible to workers. Jobs with Priority > 0
	// may be placed ahead of waiting jobs.
	Enqueue(ctx context.Context, job *model.Job) error

	// EnqueueDelayed holds the job invisible until runAt.
	EnqueueDelayed(ctx context.Context, job *model.Job, runAt time.Time) error

	// Dequeue claims one waiting job, transitioning it to active. It
	// blocks up to wait and returns ErrNoJob on timeout.
	Dequeue(ctx context.Context, tier model.Tier, wait time.Duration) (*model.Job, error)

	// Ack finishes a claimed job with the state carried on it.
	Ack(ctx context.Context, job *model.Job) error

	// Retry releases a claimed job back to the delayed set for a later
	// attempt.
	Retry(ctx context.Context, job *model.Job, runAt time.Time) error

	// Fail marks a claimed job terminally failed. Failed jobs are
	// retained for operator inspection, not dropped.
	Fail(ctx context.Context, job *model.Job) error

	// Update persists the in-flight state of a claimed job without a
	// state transition. Workers call it to checkpoint progress.
	Update(ctx context.Context, job *model.Job) error

	// Get returns the job by id, or ErrJobNotFound.
	Get(ctx context.Context, tier model.Tier, id string) (*model.Job, error)

	// Cancel removes a job that has not started processing. Active and
	// finished jobs report false.
	Cancel(ctx context.Context, tier model.Tier, id string) (bool, error)

	// Stats reports queue depth per state.
	Stats(ctx context.Context, tier model.Tier) (model.QueueStats, error)

	// PromoteDue moves delayed jobs whose time has come to the waiting
	// state and returns how many were promoted.
	PromoteDue(ctx context.Context, tier model.Tier, now time.Time) (int, error)

	Close() error
}
