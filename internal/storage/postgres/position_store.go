package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// A unique index on snapshot_id turns the duplicate-creation race into
// ErrDuplicateKey for the caller to recover from.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, snapshot_id, candidate_id, symbol, side, status,
	fill_price, equity_at_fill, risk_r, risk_pct,
	realized_r, realized_pnl,
	opened_at, closed_at
`

// Insert adds a new position. Returns ErrDuplicateKey if position_id or
// snapshot_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO portfolio_positions (` + positionColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14
		)
	`

	_, err := s.pool.Exec(ctx, query, positionArgs(p)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// GetByID retrieves a position. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM portfolio_positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// GetBySnapshotID retrieves the position for a scenario.
// Returns ErrNotFound if not exists.
func (s *PositionStore) GetBySnapshotID(ctx context.Context, snapshotID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM portfolio_positions WHERE snapshot_id = $1`

	row := s.pool.QueryRow(ctx, query, snapshotID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by snapshot id: %w", err)
	}
	return p, nil
}

// GetOpen retrieves all open positions.
func (s *PositionStore) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM portfolio_positions
		WHERE status = 'OPEN'
		ORDER BY opened_at ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

// Update replaces the stored position. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	query := `
		UPDATE portfolio_positions SET
			snapshot_id = $2, candidate_id = $3, symbol = $4, side = $5, status = $6,
			fill_price = $7, equity_at_fill = $8, risk_r = $9, risk_pct = $10,
			realized_r = $11, realized_pnl = $12,
			opened_at = $13, closed_at = $14
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, positionArgs(p)...)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func positionArgs(p *domain.Position) []any {
	return []any{
		p.PositionID, p.SnapshotID, p.CandidateID, p.Symbol, string(p.Side), string(p.Status),
		p.FillPrice, p.EquityAtFill, p.RiskR, p.RiskPct,
		p.RealizedR, p.RealizedPnL,
		p.OpenedAt, p.ClosedAt,
	}
}

// scanPosition scans a single row into a Position.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.PositionID, &p.SnapshotID, &p.CandidateID, &p.Symbol, &side, &status,
		&p.FillPrice, &p.EquityAtFill, &p.RiskR, &p.RiskPct,
		&p.RealizedR, &p.RealizedPnL,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Side = domain.Bias(side)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}
