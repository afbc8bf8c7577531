package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// The price ladder lives in JSONB columns; the scalar columns carry
// everything queries filter on.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	snapshot_id, symbol, timeframe, bias, archetype,
	entry_orders, stop_loss, take_profits,
	breakeven_after_tp1, breakeven_price,
	confidence, expected_value_r,
	generated_at, expires_at,
	schema_version, prompt_version, code_version,
	raw_payload, created_at
`

// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.Snapshot) error {
	entryOrders, err := json.Marshal(snap.EntryOrders)
	if err != nil {
		return fmt.Errorf("marshal entry orders: %w", err)
	}
	takeProfits, err := json.Marshal(snap.TakeProfits)
	if err != nil {
		return fmt.Errorf("marshal take profits: %w", err)
	}

	query := `
		INSERT INTO scenario_snapshots (` + snapshotColumns + `)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12,
			$13, $14,
			$15, $16, $17,
			$18, $19
		)
	`

	_, err = s.pool.Exec(ctx, query,
		snap.SnapshotID, snap.Symbol, snap.Timeframe, string(snap.Bias), snap.Archetype,
		entryOrders, snap.StopLoss, takeProfits,
		snap.BreakevenAfterTP1, snap.BreakevenPrice,
		snap.Confidence, snap.ExpectedValueR,
		snap.GeneratedAt, snap.ExpiresAt,
		snap.SchemaVersion, snap.PromptVersion, snap.CodeVersion,
		snap.RawPayload, snap.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(ctx context.Context, snapshotID string) (*domain.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM scenario_snapshots WHERE snapshot_id = $1`

	row := s.pool.QueryRow(ctx, query, snapshotID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot by id: %w", err)
	}
	return snap, nil
}

// GetByIDs retrieves snapshots for a set of IDs. Missing IDs are skipped.
func (s *SnapshotStore) GetByIDs(ctx context.Context, snapshotIDs []string) (map[string]*domain.Snapshot, error) {
	result := make(map[string]*domain.Snapshot, len(snapshotIDs))
	if len(snapshotIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + snapshotColumns + ` FROM scenario_snapshots WHERE snapshot_id = ANY($1)`

	rows, err := s.pool.Query(ctx, query, snapshotIDs)
	if err != nil {
		return nil, fmt.Errorf("get snapshots by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		result[snap.SnapshotID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

// DeleteOlderThan removes snapshots generated before the cutoff.
func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scenario_snapshots WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanSnapshot scans a single row into a Snapshot.
func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var entryOrders, takeProfits []byte
	var bias string

	err := row.Scan(
		&snap.SnapshotID, &snap.Symbol, &snap.Timeframe, &bias, &snap.Archetype,
		&entryOrders, &snap.StopLoss, &takeProfits,
		&snap.BreakevenAfterTP1, &snap.BreakevenPrice,
		&snap.Confidence, &snap.ExpectedValueR,
		&snap.GeneratedAt, &snap.ExpiresAt,
		&snap.SchemaVersion, &snap.PromptVersion, &snap.CodeVersion,
		&snap.RawPayload, &snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Bias = domain.Bias(bias)
	if err := json.Unmarshal(entryOrders, &snap.EntryOrders); err != nil {
		return nil, fmt.Errorf("unmarshal entry orders: %w", err)
	}
	if err := json.Unmarshal(takeProfits, &snap.TakeProfits); err != nil {
		return nil, fmt.Errorf("unmarshal take profits: %w", err)
	}
	return &snap, nil
}
