package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager implements Manager in process memory with the same
// semantics as the Redis manager: single-attempt acquisition, token
// ownership, TTL expiry. Used in tests and single-instance setups.
type MemoryManager struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryOption configures a MemoryManager.
type MemoryOption func(*MemoryManager)

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryManager constructs an in-memory lock manager.
func NewMemoryManager(opts ...MemoryOption) *MemoryManager {
	m := &MemoryManager{
		held: make(map[string]memoryEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to take the lock once.
func (m *MemoryManager) Acquire(_ context.Context, key string, ttl time.Duration) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.held[key]; ok && entry.expiresAt.After(now) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	expiresAt := now.Add(ttl)
	m.held[key] = memoryEntry{token: token, expiresAt: expiresAt}

	return &Lock{Key: key, Token: token, ExpiresAt: expiresAt}, nil
}

// Release frees the lock if it is still owned by l's token.
func (m *MemoryManager) Release(_ context.Context, l *Lock) error {
	if l == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.held[l.Key]; ok && entry.token == l.Token {
		delete(m.held, l.Key)
	}
	return nil
}
