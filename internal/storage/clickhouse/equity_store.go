package clickhouse

import (
	"context"
	"fmt"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// EquityStore implements storage.EquityStore using ClickHouse. Equity
// snapshots are an append-only audit timeseries, a natural MergeTree fit.
type EquityStore struct {
	conn *Conn
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(conn *Conn) *EquityStore {
	return &EquityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// Append adds a new equity snapshot. Returns ErrDuplicateKey if the id exists.
func (s *EquityStore) Append(ctx context.Context, e *domain.EquitySnapshot) error {
	exists, err := s.exists(ctx, e.SnapshotID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO equity_snapshots (
			snapshot_id, epoch, equity, peak_equity, drawdown_pct,
			open_positions, wins, losses, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = s.conn.Exec(ctx, query,
		e.SnapshotID, uint64(e.Epoch), e.Equity, e.PeakEquity, e.DrawdownPct,
		uint32(e.OpenPositions), uint32(e.Wins), uint32(e.Losses), uint64(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

// Latest retrieves the most recent snapshot. Returns ErrNotFound when empty.
func (s *EquityStore) Latest(ctx context.Context) (*domain.EquitySnapshot, error) {
	query := `
		SELECT snapshot_id, epoch, equity, peak_equity, drawdown_pct,
		       open_positions, wins, losses, created_at
		FROM equity_snapshots
		ORDER BY created_at DESC, epoch DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query latest equity snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate equity snapshots: %w", err)
		}
		return nil, storage.ErrNotFound
	}
	return scanEquity(rows)
}

// GetByTimeRange retrieves snapshots created within [start, end] (inclusive),
// ordered by created_at ASC.
func (s *EquityStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EquitySnapshot, error) {
	query := `
		SELECT snapshot_id, epoch, equity, peak_equity, drawdown_pct,
		       open_positions, wins, losses, created_at
		FROM equity_snapshots
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, epoch ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query equity snapshots by time range: %w", err)
	}
	defer rows.Close()

	var result []*domain.EquitySnapshot
	for rows.Next() {
		e, err := scanEquity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity snapshots: %w", err)
	}
	return result, nil
}

func (s *EquityStore) exists(ctx context.Context, snapshotID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM equity_snapshots WHERE snapshot_id = ?`, snapshotID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type equityScanner interface {
	Scan(dest ...any) error
}

func scanEquity(row equityScanner) (*domain.EquitySnapshot, error) {
	var e domain.EquitySnapshot
	var epoch, createdAt uint64
	var openPositions, wins, losses uint32

	err := row.Scan(
		&e.SnapshotID, &epoch, &e.Equity, &e.PeakEquity, &e.DrawdownPct,
		&openPositions, &wins, &losses, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan equity snapshot: %w", err)
	}

	e.Epoch = int64(epoch)
	e.OpenPositions = int(openPositions)
	e.Wins = int(wins)
	e.Losses = int(losses)
	e.CreatedAt = int64(createdAt)
	return &e, nil
}
