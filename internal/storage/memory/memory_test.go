package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

func TestSnapshotStore_DuplicateAndNotFound(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	snap := &domain.Snapshot{SnapshotID: "snap-1", Symbol: "BTCUSDT"}
	require.NoError(t, store.Insert(ctx, snap))
	assert.ErrorIs(t, store.Insert(ctx, snap), storage.ErrDuplicateKey)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := store.GetByIDs(ctx, []string{"snap-1", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshotStore_CloneOnRead(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.Snapshot{SnapshotID: "snap-1", Symbol: "BTCUSDT"}))

	got, err := store.GetByID(ctx, "snap-1")
	require.NoError(t, err)
	got.Symbol = "MUTATED"

	again, err := store.GetByID(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", again.Symbol)
}

func TestMonitorStateStore_UpdateSemantics(t *testing.T) {
	store := NewMonitorStateStore()
	ctx := context.Background()

	st := &domain.MonitorState{SnapshotID: "snap-1", Status: domain.StatusArmed}
	require.NoError(t, store.Insert(ctx, st))
	assert.ErrorIs(t, store.Insert(ctx, st), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.Update(ctx, &domain.MonitorState{SnapshotID: "missing"}), storage.ErrNotFound)

	st.Status = domain.StatusSL
	require.NoError(t, store.Update(ctx, st))

	active, err := store.GetActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEventStore_SeqCollision(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	events := []*domain.MonitorEvent{
		{SnapshotID: "snap-1", Seq: 1, Kind: domain.EventTrigger, Timestamp: 100},
		{SnapshotID: "snap-1", Seq: 2, Kind: domain.EventEntryFill, Timestamp: 200},
	}
	require.NoError(t, store.Append(ctx, events))
	assert.ErrorIs(t, store.Append(ctx, events[:1]), storage.ErrDuplicateKey)

	got, err := store.GetBySnapshotID(ctx, "snap-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Seq)

	pruned, err := store.PruneBefore(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}

func TestOutcomeStore_OnePerSnapshot(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	out := &domain.Outcome{SnapshotID: "snap-1", Class: domain.OutcomeClassWin, TotalR: 1.7, CreatedAt: 100}
	require.NoError(t, store.Insert(ctx, out))
	assert.ErrorIs(t, store.Insert(ctx, out), storage.ErrDuplicateKey)

	inRange, err := store.GetByTimeRange(ctx, 0, 200)
	require.NoError(t, err)
	assert.Len(t, inRange, 1)
}

func TestPositionStore_SnapshotUnique(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &domain.Position{PositionID: "pos-a", SnapshotID: "snap-1", Status: domain.PositionOpen}))
	err := store.Insert(ctx, &domain.Position{PositionID: "pos-b", SnapshotID: "snap-1", Status: domain.PositionOpen})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCandleStore_DuplicatesIgnoredAndRangeExclusiveInclusive(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	c1 := &domain.Candle{Symbol: "BTCUSDT", OpenTime: 60_000, Close: 1}
	c2 := &domain.Candle{Symbol: "BTCUSDT", OpenTime: 120_000, Close: 2}
	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{c1, c2}))
	// Redelivered bar after reconnect.
	require.NoError(t, store.InsertBulk(ctx, []*domain.Candle{c1}))

	got, err := store.GetRange(ctx, "BTCUSDT", 60_000, 120_000, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(120_000), got[0].OpenTime)
}

func TestEquityStore_LatestAndEmpty(t *testing.T) {
	store := NewEquityStore()
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Append(ctx, &domain.EquitySnapshot{SnapshotID: "eq-1", Epoch: 1, Equity: 10_000, CreatedAt: 100}))
	require.NoError(t, store.Append(ctx, &domain.EquitySnapshot{SnapshotID: "eq-2", Epoch: 2, Equity: 10_170, CreatedAt: 200}))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "eq-2", latest.SnapshotID)
}
