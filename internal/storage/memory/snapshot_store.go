package memory

import (
	"context"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Snapshot // keyed by snapshot_id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.Snapshot),
	}
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[snap.SnapshotID] = cloneSnapshot(snap)
	return nil
}

// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(_ context.Context, snapshotID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, exists := s.data[snapshotID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(snap), nil
}

// GetByIDs retrieves snapshots for a set of IDs. Missing IDs are skipped.
func (s *SnapshotStore) GetByIDs(_ context.Context, snapshotIDs []string) (map[string]*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.Snapshot, len(snapshotIDs))
	for _, id := range snapshotIDs {
		if snap, exists := s.data[id]; exists {
			result[id] = cloneSnapshot(snap)
		}
	}
	return result, nil
}

// DeleteOlderThan removes snapshots generated before the cutoff.
func (s *SnapshotStore) DeleteOlderThan(_ context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, snap := range s.data {
		if snap.GeneratedAt < cutoff {
			delete(s.data, id)
			removed++
		}
	}
	return removed, nil
}

func cloneSnapshot(s *domain.Snapshot) *domain.Snapshot {
	c := *s
	c.EntryOrders = append([]domain.EntryOrder(nil), s.EntryOrders...)
	c.TakeProfits = append([]float64(nil), s.TakeProfits...)
	c.RawPayload = append([]byte(nil), s.RawPayload...)
	if s.BreakevenPrice != nil {
		v := *s.BreakevenPrice
		c.BreakevenPrice = &v
	}
	if s.ExpectedValueR != nil {
		v := *s.ExpectedValueR
		c.ExpectedValueR = &v
	}
	return &c
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
