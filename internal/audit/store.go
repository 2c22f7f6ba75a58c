package audit

import (
	"context"
	"sync"
)

// Store persists the Hub call trail. Append-only.
type Store interface {
	Append(ctx context.Context, call HubCall) error
	ListByOperation(ctx context.Context, operation string) ([]HubCall, error)
}

// memoryStoreCapacity bounds the in-memory trail. Entries are evicted
// oldest-first, so a long-running server without Postgres keeps a
// recent window rather than an unbounded slice.
const memoryStoreCapacity = 1000

// MemoryStore keeps a bounded ring of recent calls. Suitable for
// tests and single-node development runs.
type MemoryStore struct {
	mu       sync.Mutex
	calls    []HubCall
	capacity int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{capacity: memoryStoreCapacity}
}

func (s *MemoryStore) Append(_ context.Context, call HubCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if len(s.calls) > s.capacity {
		s.calls = s.calls[len(s.calls)-s.capacity:]
	}
	return nil
}

func (s *MemoryStore) ListByOperation(_ context.Context, operation string) ([]HubCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HubCall
	for _, c := range s.calls {
		if c.Operation == operation {
			out = append(out, c)
		}
	}
	return out, nil
}
