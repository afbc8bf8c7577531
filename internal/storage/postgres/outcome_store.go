package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL. The
// snapshot_id primary key enforces the one-outcome-per-scenario rule.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `
	snapshot_id, terminal_status, class,
	realized_r_from_tp1, remainder_r, total_r, fill_pct_at_exit,
	mae_price, mfe_price, mae_r, mfe_r,
	triggered_at, entered_at, exited_at,
	trace, created_at
`

// Insert adds a new outcome. Returns ErrDuplicateKey if snapshot_id exists.
func (s *OutcomeStore) Insert(ctx context.Context, o *domain.Outcome) error {
	trace, err := json.Marshal(o.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	query := `
		INSERT INTO scenario_outcomes (` + outcomeColumns + `)
		VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16
		)
	`

	_, err = s.pool.Exec(ctx, query,
		o.SnapshotID, string(o.TerminalStatus), string(o.Class),
		o.RealizedRFromTP1, o.RemainderR, o.TotalR, o.FillPctAtExit,
		o.MAEPrice, o.MFEPrice, o.MAER, o.MFER,
		o.TriggeredAt, o.EnteredAt, o.ExitedAt,
		trace, o.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// GetBySnapshotID retrieves an outcome. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM scenario_outcomes WHERE snapshot_id = $1`

	row := s.pool.QueryRow(ctx, query, snapshotID)
	o, err := scanOutcome(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get outcome by snapshot id: %w", err)
	}
	return o, nil
}

// GetByTimeRange retrieves outcomes created within [start, end] (inclusive),
// ordered by created_at ASC.
func (s *OutcomeStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Outcome, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM scenario_outcomes
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC, snapshot_id ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get outcomes by time range: %w", err)
	}
	defer rows.Close()

	var result []*domain.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return result, nil
}

// scanOutcome scans a single row into an Outcome.
func scanOutcome(row pgx.Row) (*domain.Outcome, error) {
	var o domain.Outcome
	var trace []byte
	var status, class string

	err := row.Scan(
		&o.SnapshotID, &status, &class,
		&o.RealizedRFromTP1, &o.RemainderR, &o.TotalR, &o.FillPctAtExit,
		&o.MAEPrice, &o.MFEPrice, &o.MAER, &o.MFER,
		&o.TriggeredAt, &o.EnteredAt, &o.ExitedAt,
		&trace, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.TerminalStatus = domain.MonitorStatus(status)
	o.Class = domain.OutcomeClass(class)
	if err := json.Unmarshal(trace, &o.Trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return &o, nil
}
