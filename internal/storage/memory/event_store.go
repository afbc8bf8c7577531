package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

type eventKey struct {
	snapshotID string
	seq        int
}

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data map[eventKey]*domain.MonitorEvent
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make(map[eventKey]*domain.MonitorEvent),
	}
}

// Append adds events in order. Returns ErrDuplicateKey on a
// (snapshot_id, seq) collision.
func (s *EventStore) Append(_ context.Context, events []*domain.MonitorEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[eventKey]struct{}, len(events))

	for _, e := range events {
		if e == nil || e.SnapshotID == "" || e.Seq <= 0 {
			return storage.ErrInvalidInput
		}
		key := eventKey{e.SnapshotID, e.Seq}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, e := range events {
		copy := *e
		s.data[eventKey{e.SnapshotID, e.Seq}] = &copy
	}

	return nil
}

// GetBySnapshotID retrieves all events for a scenario, ordered by seq ASC.
func (s *EventStore) GetBySnapshotID(_ context.Context, snapshotID string) ([]*domain.MonitorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MonitorEvent
	for _, e := range s.data {
		if e.SnapshotID == snapshotID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// PruneBefore removes events older than the cutoff.
func (s *EventStore) PruneBefore(_ context.Context, cutoff int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.data {
		if e.Timestamp < cutoff {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

var _ storage.EventStore = (*EventStore)(nil)
