package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Outcome // keyed by snapshot_id
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.Outcome),
	}
}

// Insert adds a new outcome. Returns ErrDuplicateKey if snapshot_id exists.
func (s *OutcomeStore) Insert(_ context.Context, o *domain.Outcome) error {
	if o == nil || o.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[o.SnapshotID] = cloneOutcome(o)
	return nil
}

// GetBySnapshotID retrieves an outcome. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetBySnapshotID(_ context.Context, snapshotID string) (*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[snapshotID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneOutcome(o), nil
}

// GetByTimeRange retrieves outcomes created within [start, end] (inclusive),
// ordered by created_at ASC.
func (s *OutcomeStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Outcome
	for _, o := range s.data {
		if o.CreatedAt >= start && o.CreatedAt <= end {
			result = append(result, cloneOutcome(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].SnapshotID < result[j].SnapshotID
	})

	return result, nil
}

func cloneOutcome(o *domain.Outcome) *domain.Outcome {
	c := *o
	c.Trace = append([]domain.TraceStep(nil), o.Trace...)
	return &c
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)
