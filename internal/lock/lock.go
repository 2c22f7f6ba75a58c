// Package lock provides advisory, self-expiring mutual exclusion for
// operations that must not run concurrently for the same entity (a
// transfer record, a citizen's folder).
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the resource is already locked.
// Acquisition is single-attempt; callers needing blocking semantics
// retry with their own backoff.
var ErrNotAcquired = errors.New("lock not acquired")

// Lock is a held lock. The token proves ownership on release; a holder
// that overran its TTL cannot delete a newer holder's lock.
type Lock struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Manager acquires and releases locks against a shared store. Locks
// auto-release after their TTL, so a crashed holder never wedges the
// resource; callers must pick a TTL longer than the critical section
// and must not assume exclusivity beyond it.
type Manager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error)
	Release(ctx context.Context, l *Lock) error
}
