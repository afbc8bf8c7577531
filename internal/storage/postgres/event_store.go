package postgres

import (
	"context"
	"fmt"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
// (snapshot_id, seq) is the primary key.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds events in order, atomically. Returns ErrDuplicateKey on a
// (snapshot_id, seq) collision.
func (s *EventStore) Append(ctx context.Context, events []*domain.MonitorEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO monitor_events (
			snapshot_id, seq, kind, ts, price, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, ev := range events {
		_, err := tx.Exec(ctx, query,
			ev.SnapshotID, ev.Seq, string(ev.Kind), ev.Timestamp, ev.Price, ev.Note, ev.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert monitor event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBySnapshotID retrieves all events for a scenario, ordered by seq ASC.
func (s *EventStore) GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.MonitorEvent, error) {
	query := `
		SELECT snapshot_id, seq, kind, ts, price, note, created_at
		FROM monitor_events
		WHERE snapshot_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("get events by snapshot id: %w", err)
	}
	defer rows.Close()

	var result []*domain.MonitorEvent
	for rows.Next() {
		var ev domain.MonitorEvent
		var kind string
		if err := rows.Scan(&ev.SnapshotID, &ev.Seq, &kind, &ev.Timestamp, &ev.Price, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan monitor event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		result = append(result, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor events: %w", err)
	}
	return result, nil
}

// PruneBefore removes events older than the cutoff. Returns rows removed.
func (s *EventStore) PruneBefore(ctx context.Context, cutoff int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM monitor_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune monitor events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
