package memq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/queue"
)

// Broker is the in-memory implementation of the durable job broker.
// It backs single-process deployments and tests; the dispatcher layer
// cannot tell it apart from the Redis back-end.
type Broker struct {
	mu    sync.Mutex
	tiers map[model.Tier]*tierState
}

type tierState struct {
	waiting   []string
	delayed   []delayedEntry
	active    map[string]struct{}
	jobs      map[string]*model.Job
	completed int64
	failed    int64
	signal    chan struct{}
}

type delayedEntry struct {
	id    string
	runAt time.Time
}

func New() *Broker {
	return &Broker{tiers: make(map[model.Tier]*tierState)}
}

func (b *Broker) tier(t model.Tier) *tierState {
	ts, ok := b.tiers[t]
	if !ok {
		ts = &tierState{
			active: make(map[string]struct{}),
			jobs:   make(map[string]*model.Job),
			signal: make(chan struct{}, 1),
		}
		b.tiers[t] = ts
	}
	return ts
}

func (ts *tierState) notify() {
	select {
	case ts.signal <- struct{}{}:
	default:
	}
}

func copyJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

func (b *Broker) Enqueue(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(job.Tier)
	job.Status = model.JobStatusWaiting
	ts.jobs[job.ID] = copyJob(job)
	if job.Priority > 0 {
		ts.waiting = append([]string{job.ID}, ts.waiting...)
	} else {
		ts.waiting = append(ts.waiting, job.ID)
	}
	ts.notify()
	return nil
}

func (b *Broker) EnqueueDelayed(_ context.Context, job *model.Job, runAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(job.Tier)
	job.Status = model.JobStatusDelayed
	ts.jobs[job.ID] = copyJob(job)
	ts.delayed = append(ts.delayed, delayedEntry{id: job.ID, runAt: runAt})
	sort.Slice(ts.delayed, func(i, j int) bool { return ts.delayed[i].runAt.Before(ts.delayed[j].runAt) })
	return nil
}

func (b *Broker) Dequeue(ctx context.Context, tier model.Tier, wait time.Duration) (*model.Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		ts := b.tier(tier)
		if len(ts.waiting) > 0 {
			id := ts.waiting[0]
			ts.waiting = ts.waiting[1:]
			job := ts.jobs[id]
			job.Status = model.JobStatusActive
			ts.active[id] = struct{}{}
			claimed := copyJob(job)
			if len(ts.waiting) > 0 {
				ts.notify()
			}
			b.mu.Unlock()
			return claimed, nil
		}
		signal := ts.signal
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, queue.ErrNoJob
		case <-signal:
		}
	}
}

func (b *Broker) Ack(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(job.Tier)
	delete(ts.active, job.ID)
	job.Status = model.JobStatusCompleted
	ts.jobs[job.ID] = copyJob(job)
	ts.completed++
	return nil
}

func (b *Broker) Retry(ctx context.Context, job *model.Job, runAt time.Time) error {
	b.mu.Lock()
	ts := b.tier(job.Tier)
	delete(ts.active, job.ID)
	b.mu.Unlock()
	return b.EnqueueDelayed(ctx, job, runAt)
}

func (b *Broker) Fail(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(job.Tier)
	delete(ts.active, job.ID)
	job.Status = model.JobStatusFailed
	ts.jobs[job.ID] = copyJob(job)
	ts.failed++
	return nil
}

func (b *Broker) Update(_ context.Context, job *model.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tier(job.Tier).jobs[job.ID] = copyJob(job)
	return nil
}

func (b *Broker) Get(_ context.Context, tier model.Tier, id string) (*model.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.tier(tier).jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (b *Broker) Cancel(_ context.Context, tier model.Tier, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(tier)
	for i, wid := range ts.waiting {
		if wid == id {
			ts.waiting = append(ts.waiting[:i], ts.waiting[i+1:]...)
			delete(ts.jobs, id)
			return true, nil
		}
	}
	for i, de := range ts.delayed {
		if de.id == id {
			ts.delayed = append(ts.delayed[:i], ts.delayed[i+1:]...)
			delete(ts.jobs, id)
			return true, nil
		}
	}
	return false, nil
}

func (b *Broker) Stats(_ context.Context, tier model.Tier) (model.QueueStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(tier)
	stats := model.QueueStats{
		Tier:      tier,
		Waiting:   int64(len(ts.waiting)),
		Active:    int64(len(ts.active)),
		Delayed:   int64(len(ts.delayed)),
		Completed: ts.completed,
		Failed:    ts.failed,
	}
	stats.Total = stats.Waiting + stats.Active + stats.Delayed + stats.Completed + stats.Failed
	return stats, nil
}

func (b *Broker) PromoteDue(_ context.Context, tier model.Tier, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.tier(tier)
	promoted := 0
	for len(ts.delayed) > 0 && !ts.delayed[0].runAt.After(now) {
		id := ts.delayed[0].id
		ts.delayed = ts.delayed[1:]
		job, ok := ts.jobs[id]
		if !ok {
			continue
		}
		job.Status = model.JobStatusWaiting
		if job.Priority > 0 {
			ts.waiting = append([]string{id}, ts.waiting...)
		} else {
			ts.waiting = append(ts.waiting, id)
		}
		promoted++
	}
	if promoted > 0 {
		ts.notify()
	}
	return promoted, nil
}

func (b *Broker) Close() error {
	return nil
}
