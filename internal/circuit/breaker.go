// Package circuit implements a per-endpoint circuit breaker that
// fast-fails calls to a misbehaving Hub endpoint instead of queuing
// load against it.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the breaker is refusing calls.
var ErrOpen = errors.New("circuit open")

// State is the breaker state exposed to callers and dashboards.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker tracks consecutive failures for one endpoint. After
// failureThreshold consecutive failures it opens; after the cooldown a
// single trial call probes the endpoint, and its outcome decides
// whether the breaker closes again or re-opens.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	openedAt            time.Time
	trialInFlight       bool
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold overrides the consecutive-failure count that
// opens the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithCooldown overrides how long the breaker stays open before
// admitting a trial call.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs a closed breaker with default threshold 5 and
// cooldown 30s.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		cooldown:         30 * time.Second,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the endpoint name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. When the cooldown has
// elapsed on an open breaker, exactly one caller wins the half-open
// trial slot; concurrent callers keep getting ErrOpen until the trial
// resolves. The claim happens under the mutex so two goroutines can
// never both become the trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	default: // half open
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.trialInFlight = false
	b.state = StateClosed
}

// RecordFailure reports a failed call outcome. In half-open state any
// failure re-opens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.consecutiveFailures++
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false
	case StateClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// Snapshot is a point-in-time view for dashboards and metrics.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
		OpenedAt:            b.openedAt,
	}
}
