package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests drive cooldown expiry deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_InitialState(t *testing.T) {
	b := New("registerCitizen")
	assert.Equal(t, StateClosed, b.Snapshot().State)
	assert.NoError(t, b.Allow())
	assert.Equal(t, "registerCitizen", b.Name())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New("registerCitizen", WithFailureThreshold(3), WithClock(clock.Now))

	b.RecordFailure()
	b.RecordFailure()
	assert.NoError(t, b.Allow(), "below threshold, calls still pass")

	b.RecordFailure()
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, clock.Now(), snap.OpenedAt)
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_DeniesUntilCooldownElapses(t *testing.T) {
	clock := newFakeClock()
	b := New("unregisterCitizen",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clock.Now),
	)

	b.RecordFailure()
	require.ErrorIs(t, b.Allow(), ErrOpen)

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrOpen, "cooldown not yet elapsed")

	clock.Advance(time.Second)
	assert.NoError(t, b.Allow(), "cooldown elapsed, trial call admitted")
	assert.Equal(t, StateHalfOpen, b.Snapshot().State)
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := New("validateCitizen", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))

	b.RecordFailure()
	clock.Advance(2 * time.Second)

	require.NoError(t, b.Allow(), "first caller wins the trial slot")
	assert.ErrorIs(t, b.Allow(), ErrOpen, "second caller is refused while trial is in flight")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.Snapshot().State)
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("authenticateDocument", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))

	b.RecordFailure()
	clock.Advance(2 * time.Second)
	require.NoError(t, b.Allow())

	clock.Advance(500 * time.Millisecond)
	b.RecordFailure()

	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt, "failed trial restarts the cooldown")
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("getOperators", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	b.RecordFailure()
	b.RecordFailure()
	assert.NoError(t, b.Allow(), "count was reset, still below threshold")

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_ConcurrentTrialClaim(t *testing.T) {
	clock := newFakeClock()
	b := New("registerOperator", WithFailureThreshold(1), WithCooldown(time.Second), WithClock(clock.Now))

	b.RecordFailure()
	clock.Advance(2 * time.Second)

	const goroutines = 16
	var admitted int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted, "exactly one concurrent caller may run the trial")
}

func TestRegistry_IndependentBreakers(t *testing.T) {
	reg := NewRegistry(WithFailureThreshold(1))

	reg.Get("registerCitizen").RecordFailure()

	assert.ErrorIs(t, reg.Get("registerCitizen").Allow(), ErrOpen)
	assert.NoError(t, reg.Get("unregisterCitizen").Allow(), "one endpoint's outage does not block others")

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "registerCitizen", snaps[0].Name)
	assert.Equal(t, StateOpen, snaps[0].State)
	assert.Equal(t, StateClosed, snaps[1].State)
}

func TestRegistry_GetReturnsSameInstance(t *testing.T) {
	reg := NewRegistry()
	assert.Same(t, reg.Get("validateCitizen"), reg.Get("validateCitizen"))
}
