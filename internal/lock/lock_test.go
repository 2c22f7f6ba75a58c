package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManager_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	first, err := m.Acquire(ctx, "transfer:42", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = m.Acquire(ctx, "transfer:42", 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, m.Release(ctx, first))

	second, err := m.Acquire(ctx, "transfer:42", 30*time.Second)
	assert.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token, "each acquisition mints its own token")
}

func TestMemoryManager_ConcurrentAcquireExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(ctx, "document:d-1", 30*time.Second); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one concurrent acquire succeeds")
}

func TestMemoryManager_ExpiryReleasesCrashedHolder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewMemoryManager(WithClock(clock))

	stale, err := m.Acquire(ctx, "transfer:9", 10*time.Second)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(11 * time.Second)
	mu.Unlock()

	// The holder never released, but the TTL has passed.
	fresh, err := m.Acquire(ctx, "transfer:9", 10*time.Second)
	require.NoError(t, err)

	// The stale holder's release must not free the new holder's lock.
	require.NoError(t, m.Release(ctx, stale))
	_, err = m.Acquire(ctx, "transfer:9", 10*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired, "new holder still owns the lock")

	require.NoError(t, m.Release(ctx, fresh))
}

func TestMemoryManager_ReleaseNilIsNoop(t *testing.T) {
	m := NewMemoryManager()
	assert.NoError(t, m.Release(context.Background(), nil))
}
