//go:build integration

package ratelimit

import (
	"context"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLimiter_SharedBudgetAcrossInstances(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)
	logger := slog.Default()

	// Two limiter instances sharing the same store stand in for two
	// replicas of the service.
	a := NewRedisLimiter(client, 3, logger)
	b := NewRedisLimiter(client, 3, logger)

	admitted := 0
	for i := range 6 {
		var l *RedisLimiter
		if i%2 == 0 {
			l = a
		} else {
			l = b
		}
		ok, err := l.Allow(ctx, "registerCitizen")
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}

	assert.Equal(t, 3, admitted, "replicas share one budget")

	usage, err := a.Usage(ctx, "registerCitizen")
	require.NoError(t, err)
	assert.Equal(t, 6, usage.Count)
	assert.Equal(t, 0, usage.Remaining())
}

func TestRedisLimiter_FailOpenWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	dead := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = dead.Close() })

	open := NewRedisLimiter(dead, 1, logger)
	ok, err := open.Allow(ctx, "registerCitizen")
	require.NoError(t, err)
	assert.True(t, ok, "default policy admits calls when the store is down")

	closed := NewRedisLimiter(dead, 1, logger, WithFailClosed(true))
	ok, err = closed.Allow(ctx, "registerCitizen")
	require.NoError(t, err)
	assert.False(t, ok, "fail-closed policy denies calls when the store is down")
}
