package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// MonitorStateStore is an in-memory implementation of storage.MonitorStateStore.
type MonitorStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MonitorState // keyed by snapshot_id
}

// NewMonitorStateStore creates a new in-memory monitor state store.
func NewMonitorStateStore() *MonitorStateStore {
	return &MonitorStateStore{
		data: make(map[string]*domain.MonitorState),
	}
}

// Insert adds the initial state. Returns ErrDuplicateKey if snapshot_id exists.
func (s *MonitorStateStore) Insert(_ context.Context, m *domain.MonitorState) error {
	if m == nil || m.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[m.SnapshotID] = cloneMonitorState(m)
	return nil
}

// GetBySnapshotID retrieves a state. Returns ErrNotFound if not exists.
func (s *MonitorStateStore) GetBySnapshotID(_ context.Context, snapshotID string) (*domain.MonitorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[snapshotID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneMonitorState(m), nil
}

// GetActive retrieves every state whose status is non-terminal,
// ordered by snapshot_id for determinism.
func (s *MonitorStateStore) GetActive(_ context.Context) ([]*domain.MonitorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MonitorState
	for _, m := range s.data {
		if !m.Status.IsTerminal() {
			result = append(result, cloneMonitorState(m))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SnapshotID < result[j].SnapshotID
	})

	return result, nil
}

// Update replaces the stored state. Returns ErrNotFound if not exists.
func (s *MonitorStateStore) Update(_ context.Context, m *domain.MonitorState) error {
	if m == nil || m.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.SnapshotID]; !exists {
		return storage.ErrNotFound
	}

	s.data[m.SnapshotID] = cloneMonitorState(m)
	return nil
}

func cloneMonitorState(m *domain.MonitorState) *domain.MonitorState {
	c := *m
	c.FilledOrders = append([]domain.FilledOrder(nil), m.FilledOrders...)
	return &c
}

var _ storage.MonitorStateStore = (*MonitorStateStore)(nil)
