package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/internal/model"
	"github.com/jwalitptl/notify-api/internal/queue"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func newJob(tier model.Tier, priority int) *model.Job {
	return &model.Job{
		ID:          uuid.NewString(),
		Tier:        tier,
		Priority:    priority,
		MaxAttempts: 3,
		Payload: model.JobPayload{Single: &model.QueuedNotification{
			TenantID:     "tenant-1",
			Notification: &model.NotificationInput{Title: "t", Message: "m"},
		}},
		CreatedAt: time.Now(),
	}
}

func TestEnqueueDequeueRoundtrip(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, job))

	claimed, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobStatusActive, claimed.Status)
	require.NotNil(t, claimed.Payload.Single)
	assert.Equal(t, "tenant-1", claimed.Payload.Single.TenantID)
}

func TestDequeue_EmptyReturnsErrNoJob(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Dequeue(context.Background(), model.TierImmediate, 20*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrNoJob)
}

func TestEnqueue_PriorityJumpsQueue(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	normal := newJob(model.TierImmediate, 0)
	urgent := newJob(model.TierImmediate, 1)
	require.NoError(t, b.Enqueue(ctx, normal))
	require.NoError(t, b.Enqueue(ctx, urgent))

	first, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, first.ID)

	second, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, normal.ID, second.ID)
}

func TestAck_CompletesJob(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, job))
	claimed, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)

	claimed.Result = &model.JobResult{Succeeded: 1}
	require.NoError(t, b.Ack(ctx, claimed))

	got, err := b.Get(ctx, model.TierImmediate, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.Succeeded)

	stats, err := b.Stats(ctx, model.TierImmediate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestUpdate_CheckpointsClaimedJob(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierBulk, 0)
	require.NoError(t, b.Enqueue(ctx, job))
	claimed, err := b.Dequeue(ctx, model.TierBulk, 100*time.Millisecond)
	require.NoError(t, err)

	claimed.Progress = &model.JobProgress{Processed: 2, Total: 4}
	require.NoError(t, b.Update(ctx, claimed))

	got, err := b.Get(ctx, model.TierBulk, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusActive, got.Status)
	require.NotNil(t, got.Progress)
	assert.Equal(t, 2, got.Progress.Processed)

	// Update is not a transition; the claim stays live.
	stats, err := b.Stats(ctx, model.TierBulk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Active)
}

func TestFail_RecordsFailure(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierBulk, 0)
	require.NoError(t, b.Enqueue(ctx, job))
	claimed, err := b.Dequeue(ctx, model.TierBulk, 100*time.Millisecond)
	require.NoError(t, err)

	claimed.LastError = "boom"
	require.NoError(t, b.Fail(ctx, claimed))

	got, err := b.Get(ctx, model.TierBulk, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.LastError)

	stats, err := b.Stats(ctx, model.TierBulk)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Active)
}

func TestRetry_ReschedulesJob(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, job))
	claimed, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)

	claimed.AttemptsMade = 1
	require.NoError(t, b.Retry(ctx, claimed, time.Now().Add(-time.Millisecond)))

	stats, err := b.Stats(ctx, model.TierImmediate)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Equal(t, int64(0), stats.Active)

	promoted, err := b.PromoteDue(ctx, model.TierImmediate, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	again, err := b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.AttemptsMade)
}

func TestPromoteDue_LeavesFutureJobs(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	now := time.Now()

	due := newJob(model.TierScheduled, 0)
	future := newJob(model.TierScheduled, 0)
	require.NoError(t, b.EnqueueDelayed(ctx, due, now.Add(-time.Second)))
	require.NoError(t, b.EnqueueDelayed(ctx, future, now.Add(time.Hour)))

	promoted, err := b.PromoteDue(ctx, model.TierScheduled, now)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	stats, err := b.Stats(ctx, model.TierScheduled)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(1), stats.Delayed)
}

func TestCancel_OnlyUnclaimedJobs(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	waiting := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, waiting))

	cancelled, err := b.Cancel(ctx, model.TierImmediate, waiting.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	_, err = b.Get(ctx, model.TierImmediate, waiting.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	delayed := newJob(model.TierImmediate, 0)
	require.NoError(t, b.EnqueueDelayed(ctx, delayed, time.Now().Add(time.Hour)))
	cancelled, err = b.Cancel(ctx, model.TierImmediate, delayed.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	active := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, active))
	_, err = b.Dequeue(ctx, model.TierImmediate, 100*time.Millisecond)
	require.NoError(t, err)
	cancelled, err = b.Cancel(ctx, model.TierImmediate, active.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestDequeue_FailedClaimLeavesNoPhantomActive(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := newJob(model.TierImmediate, 0)
	require.NoError(t, b.Enqueue(ctx, job))

	// Claiming a job whose document cannot be materialized must release
	// the claim instead of leaving the id on the active list.
	require.NoError(t, b.rdb.Del(ctx, b.key(model.TierImmediate, "job", job.ID)).Err())

	_, err := b.Dequeue(ctx, model.TierImmediate, 50*time.Millisecond)
	require.Error(t, err)

	stats, err := b.Stats(ctx, model.TierImmediate)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestGet_UnknownJob(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Get(context.Background(), model.TierImmediate, "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
