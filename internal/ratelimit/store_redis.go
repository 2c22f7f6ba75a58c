package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "hub:ratelimit:"

// RedisLimiter implements Limiter on a shared Redis counter so
// multiple replicas share one budget. Windows are computed from the
// Redis server clock, not the caller's, so replicas with skewed clocks
// agree on window boundaries.
type RedisLimiter struct {
	client     *redis.Client
	limit      int
	failClosed bool
	logger     *slog.Logger
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithFailClosed makes the limiter deny calls when Redis is
// unreachable. The default is fail-open: a degraded limiter should not
// freeze an already-degraded system.
func WithFailClosed(failClosed bool) RedisOption {
	return func(l *RedisLimiter) {
		l.failClosed = failClosed
	}
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limit int, logger *slog.Logger, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client: client,
		limit:  limit,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow increments the endpoint's window counter and admits the call
// iff the pre-increment count was below the limit. INCR is atomic, so
// concurrent callers across replicas cannot both observe the same
// slot.
func (l *RedisLimiter) Allow(ctx context.Context, endpoint string) (bool, error) {
	serverNow, err := l.client.Time(ctx).Result()
	if err != nil {
		return l.storeUnavailable(endpoint, err), nil
	}

	key := windowKey(endpoint, serverNow)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*window)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.storeUnavailable(endpoint, err), nil
	}

	return incr.Val() <= int64(l.limit), nil
}

// Usage reads the endpoint's current window without counting a call.
func (l *RedisLimiter) Usage(ctx context.Context, endpoint string) (Usage, error) {
	serverNow, err := l.client.Time(ctx).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("read redis time: %w", err)
	}

	count, err := l.client.Get(ctx, windowKey(endpoint, serverNow)).Int()
	if err != nil && err != redis.Nil {
		return Usage{}, fmt.Errorf("read rate window: %w", err)
	}

	return Usage{
		Endpoint:      endpoint,
		Count:         count,
		Limit:         l.limit,
		WindowResetAt: windowStart(serverNow).Add(window),
	}, nil
}

func (l *RedisLimiter) storeUnavailable(endpoint string, err error) bool {
	if l.failClosed {
		l.logger.Error("rate limit store unavailable, denying hub call",
			"endpoint", endpoint, "error", err)
		return false
	}
	l.logger.Warn("rate limit store unavailable, admitting hub call",
		"endpoint", endpoint, "error", err)
	return true
}

func windowStart(now time.Time) time.Time {
	return now.Truncate(window)
}

func windowKey(endpoint string, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, endpoint, windowStart(now).Unix())
}
