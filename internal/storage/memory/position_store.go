package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
// Enforces the snapshot_id unique constraint that absorbs the
// duplicate-creation race on the fill path.
type PositionStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.Position // keyed by position_id
	bySnapshot map[string]string           // snapshot_id -> position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data:       make(map[string]*domain.Position),
		bySnapshot: make(map[string]string),
	}
}

// Insert adds a new position. Returns ErrDuplicateKey if position_id or
// snapshot_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" || p.SnapshotID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.bySnapshot[p.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.PositionID] = &copy
	s.bySnapshot[p.SnapshotID] = p.PositionID
	return nil
}

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// GetBySnapshotID retrieves the position for a scenario.
func (s *PositionStore) GetBySnapshotID(_ context.Context, snapshotID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.bySnapshot[snapshotID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *s.data[id]
	return &copy, nil
}

// GetOpen retrieves all open positions, ordered by opened_at ASC.
func (s *PositionStore) GetOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Status == domain.PositionOpen {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenedAt != result[j].OpenedAt {
			return result[i].OpenedAt < result[j].OpenedAt
		}
		return result[i].PositionID < result[j].PositionID
	})

	return result, nil
}

// Update replaces the stored position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; !exists {
		return storage.ErrNotFound
	}

	copy := *p
	s.data[p.PositionID] = &copy
	return nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
