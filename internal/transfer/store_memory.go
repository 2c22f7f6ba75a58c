package transfer

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. Backs tests and
// broker-less development runs.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Record
	byKey  map[string]string
	seqIDs []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Record),
		byKey: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[record.IdempotencyKey]; exists {
		return ErrDuplicateKey
	}
	clone := cloneRecord(record)
	s.byID[clone.ID] = clone
	s.byKey[clone.IdempotencyKey] = clone.ID
	s.seqIDs = append(s.seqIDs, clone.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (s *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(s.byID[id]), nil
}

func (s *MemoryStore) Update(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[record.ID]; !ok {
		return ErrNotFound
	}
	s.byID[record.ID] = cloneRecord(record)
	return nil
}

func (s *MemoryStore) ListByCitizen(_ context.Context, citizenID int64) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, id := range s.seqIDs {
		if r := s.byID[id]; r.CitizenID == citizenID {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status, direction Direction, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, id := range s.seqIDs {
		if r := s.byID[id]; r.Status == status && r.Direction == direction {
			out = append(out, cloneRecord(r))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InitiatedAt.Before(out[j].InitiatedAt)
	})
	return out, nil
}

func cloneRecord(r *Record) *Record {
	clone := *r
	clone.DocumentIDs = append([]string(nil), r.DocumentIDs...)
	if r.DocumentURLs != nil {
		clone.DocumentURLs = make(map[string][]string, len(r.DocumentURLs))
		for k, v := range r.DocumentURLs {
			clone.DocumentURLs[k] = append([]string(nil), v...)
		}
	}
	return &clone
}
