package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// MonitorStateStore implements storage.MonitorStateStore using PostgreSQL.
type MonitorStateStore struct {
	pool *Pool
}

// NewMonitorStateStore creates a new MonitorStateStore.
func NewMonitorStateStore(pool *Pool) *MonitorStateStore {
	return &MonitorStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MonitorStateStore = (*MonitorStateStore)(nil)

const monitorStateColumns = `
	snapshot_id, status, direction_sign,
	filled_orders, avg_entry_price, fill_pct,
	initial_risk_per_unit,
	current_stop, stop_at_be, tps_hit,
	realized_r, realized_r_from_tp1, remaining_pct, entry_occurred,
	mae_price, mfe_price, mae_r, mfe_r,
	triggered_at, entered_at, closed_at,
	last_candle_ts, event_seq, updated_at
`

// Insert adds the initial state. Returns ErrDuplicateKey if snapshot_id exists.
func (s *MonitorStateStore) Insert(ctx context.Context, m *domain.MonitorState) error {
	filledOrders, err := json.Marshal(m.FilledOrders)
	if err != nil {
		return fmt.Errorf("marshal filled orders: %w", err)
	}

	query := `
		INSERT INTO monitor_states (` + monitorStateColumns + `)
		VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7,
			$8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22, $23, $24
		)
	`

	_, err = s.pool.Exec(ctx, query, stateArgs(m, filledOrders)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert monitor state: %w", err)
	}
	return nil
}

// GetBySnapshotID retrieves a state. Returns ErrNotFound if not exists.
func (s *MonitorStateStore) GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.MonitorState, error) {
	query := `SELECT ` + monitorStateColumns + ` FROM monitor_states WHERE snapshot_id = $1`

	row := s.pool.QueryRow(ctx, query, snapshotID)
	m, err := scanMonitorState(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get monitor state by snapshot id: %w", err)
	}
	return m, nil
}

// GetActive retrieves every state whose status is non-terminal.
func (s *MonitorStateStore) GetActive(ctx context.Context) ([]*domain.MonitorState, error) {
	query := `
		SELECT ` + monitorStateColumns + `
		FROM monitor_states
		WHERE status IN ('ARMED', 'TRIGGERED', 'ENTERED', 'TP1')
		ORDER BY snapshot_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get active monitor states: %w", err)
	}
	defer rows.Close()

	var result []*domain.MonitorState
	for rows.Next() {
		m, err := scanMonitorState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor state: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor states: %w", err)
	}
	return result, nil
}

// Update replaces the stored state. Returns ErrNotFound if not exists.
func (s *MonitorStateStore) Update(ctx context.Context, m *domain.MonitorState) error {
	filledOrders, err := json.Marshal(m.FilledOrders)
	if err != nil {
		return fmt.Errorf("marshal filled orders: %w", err)
	}

	query := `
		UPDATE monitor_states SET
			status = $2, direction_sign = $3,
			filled_orders = $4, avg_entry_price = $5, fill_pct = $6,
			initial_risk_per_unit = $7,
			current_stop = $8, stop_at_be = $9, tps_hit = $10,
			realized_r = $11, realized_r_from_tp1 = $12, remaining_pct = $13, entry_occurred = $14,
			mae_price = $15, mfe_price = $16, mae_r = $17, mfe_r = $18,
			triggered_at = $19, entered_at = $20, closed_at = $21,
			last_candle_ts = $22, event_seq = $23, updated_at = $24
		WHERE snapshot_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, stateArgs(m, filledOrders)...)
	if err != nil {
		return fmt.Errorf("update monitor state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func stateArgs(m *domain.MonitorState, filledOrders []byte) []any {
	return []any{
		m.SnapshotID, string(m.Status), m.DirectionSign,
		filledOrders, m.AvgEntryPrice, m.FillPct,
		m.InitialRiskPerUnit,
		m.CurrentStop, m.StopAtBE, m.TPsHit,
		m.RealizedR, m.RealizedRFromTP1, m.RemainingPct, m.EntryOccurred,
		m.MAEPrice, m.MFEPrice, m.MAER, m.MFER,
		m.TriggeredAt, m.EnteredAt, m.ClosedAt,
		m.LastCandleTS, m.EventSeq, m.UpdatedAt,
	}
}

// scanMonitorState scans a single row into a MonitorState.
func scanMonitorState(row pgx.Row) (*domain.MonitorState, error) {
	var m domain.MonitorState
	var filledOrders []byte
	var status string

	err := row.Scan(
		&m.SnapshotID, &status, &m.DirectionSign,
		&filledOrders, &m.AvgEntryPrice, &m.FillPct,
		&m.InitialRiskPerUnit,
		&m.CurrentStop, &m.StopAtBE, &m.TPsHit,
		&m.RealizedR, &m.RealizedRFromTP1, &m.RemainingPct, &m.EntryOccurred,
		&m.MAEPrice, &m.MFEPrice, &m.MAER, &m.MFER,
		&m.TriggeredAt, &m.EnteredAt, &m.ClosedAt,
		&m.LastCandleTS, &m.EventSeq, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MonitorStatus(status)
	if err := json.Unmarshal(filledOrders, &m.FilledOrders); err != nil {
		return nil, fmt.Errorf("unmarshal filled orders: %w", err)
	}
	return &m, nil
}
