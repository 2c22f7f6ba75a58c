package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements Limiter in process memory. It mirrors the
// Redis semantics for unit tests and single-instance deployments
// without Redis; it does not coordinate across replicas.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	limit   int
	now     func() time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter constructs an in-memory limiter.
func NewMemoryLimiter(limit int, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts a call against the endpoint's current window.
func (l *MemoryLimiter) Allow(_ context.Context, endpoint string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(endpoint)
	w.count++
	return w.count <= l.limit, nil
}

// Usage returns the endpoint's current window consumption.
func (l *MemoryLimiter) Usage(_ context.Context, endpoint string) (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.currentWindow(endpoint)
	return Usage{
		Endpoint:      endpoint,
		Count:         w.count,
		Limit:         l.limit,
		WindowResetAt: w.start.Add(window),
	}, nil
}

// currentWindow returns the endpoint's window, resetting it if expired.
// Callers must hold l.mu.
func (l *MemoryLimiter) currentWindow(endpoint string) *rateWindow {
	start := windowStart(l.now())
	w, ok := l.windows[endpoint]
	if !ok || !w.start.Equal(start) {
		w = &rateWindow{start: start}
		l.windows[endpoint] = w
	}
	return w
}
