package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/queue"
)

const (
	// Finished jobs stay readable for this long before the store
	// reclaims them; status lookups then report not_found.
	completedRetention = 24 * time.Hour
	failedRetention    = 7 * 24 * time.Hour

	failedListCap = 1000
)

// Broker is the Redis implementation of the durable job broker.
//
// Layout per tier: a waiting list and an active list of job ids
// (claimed atomically with BLMOVE), a delayed sorted set scored by
// run-at time, one JSON document per job, and completed/failed
// counters.
type Broker struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb, prefix: "notifyq"}
}

func (b *Broker) key(tier model.Tier, parts ...string) string {
	k := fmt.Sprintf("%s:%s", b.prefix, tier)
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (b *Broker) saveJob(ctx context.Context, job *model.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return b.rdb.Set(ctx, b.key(job.Tier, "job", job.ID), data, ttl).Err()
}

func (b *Broker) loadJob(ctx context.Context, tier model.Tier, id string) (*model.Job, error) {
	data, err := b.rdb.Get(ctx, b.key(tier, "job", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (b *Broker) Enqueue(ctx context.Context, job *model.Job) error {
	job.Status = model.JobStatusWaiting
	if err := b.saveJob(ctx, job, 0); err != nil {
		return err
	}
	// Workers claim from the right; RPUSH jumps the queue.
	if job.Priority > 0 {
		return b.rdb.RPush(ctx, b.key(job.Tier, "waiting"), job.ID).Err()
	}
	return b.rdb.LPush(ctx, b.key(job.Tier, "waiting"), job.ID).Err()
}

func (b *Broker) EnqueueDelayed(ctx context.Context, job *model.Job, runAt time.Time) error {
	job.Status = model.JobStatusDelayed
	if err := b.saveJob(ctx, job, 0); err != nil {
		return err
	}
	return b.rdb.ZAdd(ctx, b.key(job.Tier, "delayed"), redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (b *Broker) Dequeue(ctx context.Context, tier model.Tier, wait time.Duration) (*model.Job, error) {
	id, err := b.rdb.BLMove(ctx, b.key(tier, "waiting"), b.key(tier, "active"), "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := b.loadJob(ctx, tier, id)
	if err != nil {
		// Job document is gone; drop the orphaned claim.
		b.rdb.LRem(ctx, b.key(tier, "active"), 1, id)
		return nil, err
	}

	job.Status = model.JobStatusActive
	if err := b.saveJob(ctx, job, 0); err != nil {
		// Same cleanup as above: a claim we cannot persist must not
		// linger on the active list.
		b.rdb.LRem(ctx, b.key(tier, "active"), 1, id)
		return nil, err
	}
	return job, nil
}

func (b *Broker) Ack(ctx context.Context, job *model.Job) error {
	if err := b.rdb.LRem(ctx, b.key(job.Tier, "active"), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	job.Status = model.JobStatusCompleted
	if err := b.saveJob(ctx, job, completedRetention); err != nil {
		return err
	}
	return b.rdb.Incr(ctx, b.key(job.Tier, "completed_count")).Err()
}

func (b *Broker) Retry(ctx context.Context, job *model.Job, runAt time.Time) error {
	if err := b.rdb.LRem(ctx, b.key(job.Tier, "active"), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return b.EnqueueDelayed(ctx, job, runAt)
}

func (b *Broker) Fail(ctx context.Context, job *model.Job) error {
	if err := b.rdb.LRem(ctx, b.key(job.Tier, "active"), 1, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	job.Status = model.JobStatusFailed
	if err := b.saveJob(ctx, job, failedRetention); err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, b.key(job.Tier, "failed"), job.ID)
	pipe.LTrim(ctx, b.key(job.Tier, "failed"), 0, failedListCap-1)
	pipe.Incr(ctx, b.key(job.Tier, "failed_count"))
	_, err := pipe.Exec(ctx)
	return err
}

func (b *Broker) Update(ctx context.Context, job *model.Job) error {
	return b.saveJob(ctx, job, 0)
}

func (b *Broker) Get(ctx context.Context, tier model.Tier, id string) (*model.Job, error) {
	return b.loadJob(ctx, tier, id)
}

func (b *Broker) Cancel(ctx context.Context, tier model.Tier, id string) (bool, error) {
	// Only jobs that no worker has claimed can be cancelled.
	removed, err := b.rdb.LRem(ctx, b.key(tier, "waiting"), 1, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if removed == 0 {
		removed, err = b.rdb.ZRem(ctx, b.key(tier, "delayed"), id).Result()
		if err != nil {
			return false, fmt.Errorf("failed to cancel job: %w", err)
		}
	}
	if removed == 0 {
		return false, nil
	}
	if err := b.rdb.Del(ctx, b.key(tier, "job", id)).Err(); err != nil {
		return true, err
	}
	return true, nil
}

func (b *Broker) Stats(ctx context.Context, tier model.Tier) (model.QueueStats, error) {
	stats := model.QueueStats{Tier: tier}

	waiting, err := b.rdb.LLen(ctx, b.key(tier, "waiting")).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	active, err := b.rdb.LLen(ctx, b.key(tier, "active")).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	delayed, err := b.rdb.ZCard(ctx, b.key(tier, "delayed")).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	completed, err := b.rdb.Get(ctx, b.key(tier, "completed_count")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}
	failed, err := b.rdb.Get(ctx, b.key(tier, "failed_count")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return stats, fmt.Errorf("failed to read queue stats: %w", err)
	}

	stats.Waiting = waiting
	stats.Active = active
	stats.Delayed = delayed
	stats.Completed = completed
	stats.Failed = failed
	stats.Total = waiting + active + delayed + completed + failed
	return stats, nil
}

func (b *Broker) PromoteDue(ctx context.Context, tier model.Tier, now time.Time) (int, error) {
	due, err := b.rdb.ZRangeByScore(ctx, b.key(tier, "delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, id := range due {
		// ZREM gates against concurrent promoters: only the remover
		// gets to requeue.
		removed, err := b.rdb.ZRem(ctx, b.key(tier, "delayed"), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		job, err := b.loadJob(ctx, tier, id)
		if err != nil {
			continue
		}
		if err := b.Enqueue(ctx, job); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}
