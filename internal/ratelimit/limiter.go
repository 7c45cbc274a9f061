package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-api/pkg/logger"
	"github.com/jwalitptl/notify-api/pkg/metrics"
)

// Config controls limiter behavior.
//
// SkipOnError preserves the deliberate availability-over-strictness
// trade-off: when the counter store is unreachable every check admits
// with a full remaining quota, so limiting degrades to "no limiting"
// instead of blocking all traffic. Flip it off to fail closed.
type Config struct {
	Prefix      string
	SkipOnError bool
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a bucketed sliding-window throttle over a shared Redis
// counter store. Each window is a distinct counter whose key embeds the
// bucket index, so stale windows expire on their own.
type Limiter struct {
	rdb     *redis.Client
	cfg     Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(rdb *redis.Client, cfg Config, log *logger.Logger, m *metrics.Metrics) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	return &Limiter{
		rdb:     rdb,
		cfg:     cfg,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

// CheckAndConsume admits or rejects one operation against the counter
// behind key. On admit the counter is incremented atomically; the first
// increment of a window arms its expiry so the counter self-cleans.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	count, err := l.rdb.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return l.failOpen(key, limit, err)
	}

	if count >= limit {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err != nil {
			return l.failOpen(key, limit, err)
		}
		if ttl < 0 {
			ttl = window
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: ttl}, nil
	}

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return l.failOpen(key, limit, err)
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Warn("failed to arm rate limit expiry", "key", key, "error", err.Error())
		}
	}

	remaining := limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: remaining}, nil
}

func (l *Limiter) failOpen(key string, limit int, err error) (Result, error) {
	if l.cfg.SkipOnError {
		l.logger.Warn("rate limit store unreachable, failing open", "key", key, "error", err.Error())
		if l.metrics != nil {
			l.metrics.RedisOperations.WithLabelValues("ratelimit", "error").Inc()
		}
		return Result{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	return Result{Limit: limit}, fmt.Errorf("rate limit check failed: %w", err)
}

// Key builds a windowed counter key from an identity and an operation
// class. The bucket index floor(now/window) makes each window distinct.
func (l *Limiter) Key(identity, operation string, window time.Duration) string {
	bucket := l.now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("%s:%s:%s:%d", l.cfg.Prefix, identity, operation, bucket)
}
