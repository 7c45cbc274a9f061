package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notify-api/pkg/logger"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, cfg, logger.Nop(), nil), mr
}

func TestCheckAndConsume_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	key := l.Key("app-1", "/api/v1/notifications", time.Minute)

	for i := 0; i < 3; i++ {
		res, err := l.CheckAndConsume(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.CheckAndConsume(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestCheckAndConsume_RejectionDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	key := l.Key("app-1", "op", time.Minute)

	res, err := l.CheckAndConsume(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// Repeated rejections must not grow the counter past the limit.
	for i := 0; i < 5; i++ {
		res, err = l.CheckAndConsume(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	}
}

func TestKey_SeparatesWindows(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return base }
	k1 := l.Key("app-1", "op", time.Minute)

	// Still inside the same minute bucket.
	l.now = func() time.Time { return base.Add(20 * time.Second) }
	assert.Equal(t, k1, l.Key("app-1", "op", time.Minute))

	// Next bucket gets a fresh counter.
	l.now = func() time.Time { return base.Add(time.Minute) }
	assert.NotEqual(t, k1, l.Key("app-1", "op", time.Minute))
}

func TestKey_SeparatesIdentitiesAndOperations(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	assert.NotEqual(t,
		l.Key("app-1", "op", time.Minute),
		l.Key("app-2", "op", time.Minute))
	assert.NotEqual(t,
		l.Key("app-1", "op-a", time.Minute),
		l.Key("app-1", "op-b", time.Minute))
}

func TestCheckAndConsume_NewWindowResetsQuota(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	ctx := context.Background()
	key := l.Key("app-1", "op", time.Second)

	res, err := l.CheckAndConsume(ctx, key, 1, time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.CheckAndConsume(ctx, key, 1, time.Second)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The counter self-expires with the window.
	mr.FastForward(2 * time.Second)
	res, err = l.CheckAndConsume(ctx, key, 1, time.Second)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckAndConsume_FailOpen(t *testing.T) {
	l, mr := newTestLimiter(t, Config{SkipOnError: true})
	mr.Close()

	res, err := l.CheckAndConsume(context.Background(), "k", 10, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Remaining)
}

func TestCheckAndConsume_FailClosed(t *testing.T) {
	l, mr := newTestLimiter(t, Config{SkipOnError: false})
	mr.Close()

	_, err := l.CheckAndConsume(context.Background(), "k", 10, time.Minute)
	assert.Error(t, err)
}
