package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
	"trade-forwardtest/internal/storage/postgres"
)

func testPosition(positionID, snapshotID string) *domain.Position {
	return &domain.Position{
		PositionID:   positionID,
		SnapshotID:   snapshotID,
		CandidateID:  "cand-001",
		Symbol:       "BTCUSDT",
		Side:         domain.BiasLong,
		Status:       domain.PositionOpen,
		FillPrice:    50000,
		EquityAtFill: 10000,
		RiskR:        1.0,
		RiskPct:      0.01,
		OpenedAt:     1700000002000,
	}
}

func TestPositionStore_SnapshotUniquenessResolvesRace(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPosition("pos-a", "snap-001")))

	// A second position for the same scenario loses on the unique index,
	// even with a fresh position_id.
	err := store.Insert(ctx, testPosition("pos-b", "snap-001"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetBySnapshotID(ctx, "snap-001")
	require.NoError(t, err)
	assert.Equal(t, "pos-a", got.PositionID)
}

func TestPositionStore_UpdateAndGetOpen(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testPosition("pos-a", "snap-001")))
	require.NoError(t, store.Insert(ctx, testPosition("pos-b", "snap-002")))

	open, err := store.GetOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	closed := testPosition("pos-a", "snap-001")
	closed.Status = domain.PositionClosed
	closed.RealizedR = 1.7
	closed.RealizedPnL = 170
	closed.ClosedAt = 1700000100000
	require.NoError(t, store.Update(ctx, closed))

	open, err = store.GetOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pos-b", open[0].PositionID)

	got, err := store.GetByID(ctx, "pos-a")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.Status)
	assert.Equal(t, 1.7, got.RealizedR)
}

func TestPositionStore_UpdateMissingReturnsNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewPositionStore(pool)
	err := store.Update(context.Background(), testPosition("pos-x", "snap-x"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
