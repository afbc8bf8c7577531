package storage

import (
	"context"

	"trade-forwardtest/internal/domain"
)

// SnapshotStore provides access to scenario_snapshots storage.
// Snapshots are immutable after creation; there is no update path.
type SnapshotStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
	Insert(ctx context.Context, s *domain.Snapshot) error

	// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, snapshotID string) (*domain.Snapshot, error)

	// GetByIDs retrieves snapshots for a set of IDs. Missing IDs are skipped.
	GetByIDs(ctx context.Context, snapshotIDs []string) (map[string]*domain.Snapshot, error)

	// DeleteOlderThan removes snapshots generated before the cutoff.
	// Retention sweep only; returns the number of rows removed.
	DeleteOlderThan(ctx context.Context, cutoff int64) (int, error)
}

// MonitorStateStore provides access to monitor_states storage.
// MonitorState is the only mutable record in the core; Update must only be
// called by the tick engine invocation holding the run-lock.
type MonitorStateStore interface {
	// Insert adds the initial state. Returns ErrDuplicateKey if snapshot_id exists.
	Insert(ctx context.Context, m *domain.MonitorState) error

	// GetBySnapshotID retrieves a state. Returns ErrNotFound if not exists.
	GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.MonitorState, error)

	// GetActive retrieves every state whose status is non-terminal.
	GetActive(ctx context.Context) ([]*domain.MonitorState, error)

	// Update replaces the stored state. Returns ErrNotFound if not exists.
	Update(ctx context.Context, m *domain.MonitorState) error
}

// EventStore provides access to monitor_events storage.
// Events are append-only; deleted only by the retention sweep.
type EventStore interface {
	// Append adds events in order. Returns ErrDuplicateKey on a
	// (snapshot_id, seq) collision.
	Append(ctx context.Context, events []*domain.MonitorEvent) error

	// GetBySnapshotID retrieves all events for a scenario, ordered by seq ASC.
	GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.MonitorEvent, error)

	// PruneBefore removes events older than the cutoff. Returns rows removed.
	PruneBefore(ctx context.Context, cutoff int64) (int, error)
}

// OutcomeStore provides access to scenario_outcomes storage.
// Exactly one outcome may exist per snapshot; Insert enforces it.
type OutcomeStore interface {
	// Insert adds a new outcome. Returns ErrDuplicateKey if snapshot_id exists.
	Insert(ctx context.Context, o *domain.Outcome) error

	// GetBySnapshotID retrieves an outcome. Returns ErrNotFound if not exists.
	GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.Outcome, error)

	// GetByTimeRange retrieves outcomes created within [start, end] (inclusive),
	// ordered by created_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Outcome, error)
}

// CandidateStore provides access to portfolio_candidates storage.
type CandidateStore interface {
	// Insert adds a new candidate. Returns ErrDuplicateKey if candidate_id exists.
	Insert(ctx context.Context, c *domain.Candidate) error

	// GetByID retrieves a candidate. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, candidateID string) (*domain.Candidate, error)

	// GetBySnapshotID retrieves all candidates referencing a scenario.
	GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.Candidate, error)

	// GetPool retrieves candidates in ACTIVE or WAITING_FOR_SLOT status,
	// ordered by score DESC.
	GetPool(ctx context.Context) ([]*domain.Candidate, error)

	// GetRejectedSince retrieves rejected candidates updated at or after ts.
	GetRejectedSince(ctx context.Context, ts int64) ([]*domain.Candidate, error)

	// Update replaces the stored candidate. Returns ErrNotFound if not exists.
	Update(ctx context.Context, c *domain.Candidate) error
}

// PositionStore provides access to portfolio_positions storage.
// snapshot_id carries a unique constraint: the duplicate-creation race on
// the fill path surfaces as ErrDuplicateKey and resolves to the existing row.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id or
	// snapshot_id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// GetByID retrieves a position. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// GetBySnapshotID retrieves the position for a scenario.
	// Returns ErrNotFound if not exists.
	GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.Position, error)

	// GetOpen retrieves all open positions.
	GetOpen(ctx context.Context) ([]*domain.Position, error)

	// Update replaces the stored position. Returns ErrNotFound if not exists.
	Update(ctx context.Context, p *domain.Position) error
}

// EquityStore provides access to equity_snapshots storage (append-only).
type EquityStore interface {
	// Append adds a new equity snapshot. Returns ErrDuplicateKey if the id exists.
	Append(ctx context.Context, e *domain.EquitySnapshot) error

	// Latest retrieves the most recent snapshot. Returns ErrNotFound when empty.
	Latest(ctx context.Context) (*domain.EquitySnapshot, error)

	// GetByTimeRange retrieves snapshots created within [start, end] (inclusive),
	// ordered by created_at ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EquitySnapshot, error)
}

// CandleStore provides access to the 1-minute candle timeseries.
type CandleStore interface {
	// InsertBulk adds candles. Duplicate (symbol, open_time) pairs are ignored;
	// the feed may re-deliver closed bars after a reconnect.
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetRange retrieves candles for a symbol with open_time in (after, until],
	// ordered by open_time ASC, capped at limit.
	GetRange(ctx context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error)
}
