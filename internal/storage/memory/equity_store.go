package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// EquityStore is an in-memory implementation of storage.EquityStore.
type EquityStore struct {
	mu   sync.RWMutex
	data []*domain.EquitySnapshot // append order
	ids  map[string]struct{}
}

// NewEquityStore creates a new in-memory equity store.
func NewEquityStore() *EquityStore {
	return &EquityStore{
		ids: make(map[string]struct{}),
	}
}

// Append adds a new equity snapshot. Returns ErrDuplicateKey if the id exists.
func (s *EquityStore) Append(_ context.Context, e *domain.EquitySnapshot) error {
	if e == nil || e.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data = append(s.data, &copy)
	s.ids[e.SnapshotID] = struct{}{}
	return nil
}

// Latest retrieves the most recent snapshot. Returns ErrNotFound when empty.
func (s *EquityStore) Latest(_ context.Context) (*domain.EquitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data) == 0 {
		return nil, storage.ErrNotFound
	}
	copy := *s.data[len(s.data)-1]
	return &copy, nil
}

// GetByTimeRange retrieves snapshots created within [start, end] (inclusive),
// ordered by created_at ASC.
func (s *EquityStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.EquitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquitySnapshot
	for _, e := range s.data {
		if e.CreatedAt >= start && e.CreatedAt <= end {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt < result[j].CreatedAt
	})

	return result, nil
}

var _ storage.EquityStore = (*EquityStore)(nil)
