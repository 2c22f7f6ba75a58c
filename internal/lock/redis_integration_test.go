//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

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

func TestRedisManager_MutualExclusionAcrossManagers(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)

	// Two managers on the same store stand in for two replicas.
	a := NewRedisManager(client)
	b := NewRedisManager(client)

	held, err := a.Acquire(ctx, "transfer:42", 30*time.Second)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "transfer:42", 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, a.Release(ctx, held))

	_, err = b.Acquire(ctx, "transfer:42", 30*time.Second)
	assert.NoError(t, err)
}

func TestRedisManager_StaleReleaseKeepsNewerLock(t *testing.T) {
	ctx := context.Background()
	client := newRedisClient(t)
	m := NewRedisManager(client)

	stale, err := m.Acquire(ctx, "transfer:9", 200*time.Millisecond)
	require.NoError(t, err)

	// Let the lock expire, then reacquire under a new token.
	time.Sleep(300 * time.Millisecond)
	fresh, err := m.Acquire(ctx, "transfer:9", 30*time.Second)
	require.NoError(t, err)

	// Compare-and-delete must refuse the stale token.
	require.NoError(t, m.Release(ctx, stale))
	_, err = m.Acquire(ctx, "transfer:9", 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, m.Release(ctx, fresh))
}
