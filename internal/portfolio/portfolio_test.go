package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
	"trade-forwardtest/internal/storage/memory"
)

type fixture struct {
	mgr    *Manager
	cands  *memory.CandidateStore
	poss   *memory.PositionStore
	equity *memory.EquityStore
	states *memory.MonitorStateStore
	now    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		cands:  memory.NewCandidateStore(),
		poss:   memory.NewPositionStore(),
		equity: memory.NewEquityStore(),
		states: memory.NewMonitorStateStore(),
		now:    time.UnixMilli(1_700_000_000_000),
	}
	f.mgr = NewManager(Options{
		Config:         cfg,
		CandidateStore: f.cands,
		PositionStore:  f.poss,
		EquityStore:    f.equity,
		StateStore:     f.states,
		Clock:          func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func testSnapshot(id, symbol string, bias domain.Bias, confidence float64) *domain.Snapshot {
	stop := 95.0
	tps := []float64{110, 120, 130}
	if bias == domain.BiasShort {
		stop = 105.0
		tps = []float64{90, 80, 70}
	}
	ev := 1.5
	return &domain.Snapshot{
		SnapshotID:     id,
		Symbol:         symbol,
		Timeframe:      domain.TimeframeH4,
		Bias:           bias,
		Archetype:      "breakout_retest",
		EntryOrders:    []domain.EntryOrder{{Price: 100, SizePct: 1.0}},
		StopLoss:       stop,
		TakeProfits:    tps,
		Confidence:     confidence,
		ExpectedValueR: &ev,
		GeneratedAt:    1_700_000_000_000,
		ExpiresAt:      1_700_000_000_000 + 72*3600*1000,
	}
}

// enter records an entered, non-terminal monitor state for the snapshot so
// the fill pass will consider its candidate.
func (f *fixture) enter(t *testing.T, snap *domain.Snapshot) {
	t.Helper()
	st := domain.NewMonitorState(snap, f.now.UnixMilli())
	st.Status = domain.StatusEntered
	st.EntryOccurred = true
	st.AvgEntryPrice = snap.EntryOrders[0].Price
	st.FillPct = 1.0
	st.InitialRiskPerUnit = 5.0
	require.NoError(t, f.states.Insert(context.Background(), st))
}

func TestAdmit_StrongCandidateEntersPool(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	res, err := f.mgr.Admit(ctx, testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, domain.CandidateActive, res.Candidate.Status)
	assert.Greater(t, res.Candidate.Score, 0.0)

	pool, err := f.cands.GetPool(ctx)
	require.NoError(t, err)
	assert.Len(t, pool, 1)
}

func TestAdmit_BelowMinScoreRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = 0.99
	f := newFixture(t, cfg)

	res, err := f.mgr.Admit(context.Background(), testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.5))
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, domain.CandidateRejected, res.Candidate.Status)
	assert.Equal(t, domain.RejectLowScore, res.Candidate.RejectReason)
	assert.False(t, res.Candidate.RejectReason.CounterfactualEligible())
}

func TestAdmit_DuplicateScenarioRejected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	_, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, domain.RejectDuplicate, res.Candidate.RejectReason)

	pool, err := f.cands.GetPool(ctx)
	require.NoError(t, err)
	assert.Len(t, pool, 1)
}

func TestAdmit_StrongerArrivalDisplacesSameSymbolSide(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	weak, err := f.mgr.Admit(ctx, testSnapshot("snap-weak", "BTCUSDT", domain.BiasLong, 0.4))
	require.NoError(t, err)
	require.True(t, weak.Admitted)

	strong, err := f.mgr.Admit(ctx, testSnapshot("snap-strong", "BTCUSDT", domain.BiasLong, 0.95))
	require.NoError(t, err)
	assert.True(t, strong.Admitted)
	require.NotNil(t, strong.Displaced)

	displaced, err := f.cands.GetByID(ctx, weak.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateRejected, displaced.Status)
	assert.Equal(t, domain.RejectReplacedSameSide, displaced.RejectReason)
	assert.Equal(t, strong.Candidate.CandidateID, displaced.ReplacedBy)
	assert.True(t, displaced.RejectReason.CounterfactualEligible())
}

func TestAdmit_WeakerArrivalLosesToIncumbent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	strong, err := f.mgr.Admit(ctx, testSnapshot("snap-strong", "BTCUSDT", domain.BiasLong, 0.95))
	require.NoError(t, err)
	require.True(t, strong.Admitted)

	weak, err := f.mgr.Admit(ctx, testSnapshot("snap-weak", "BTCUSDT", domain.BiasLong, 0.4))
	require.NoError(t, err)
	assert.False(t, weak.Admitted)
	assert.Equal(t, domain.RejectWeakerSameSide, weak.Candidate.RejectReason)

	incumbent, err := f.cands.GetByID(ctx, strong.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateActive, incumbent.Status)
}

func TestAdmit_PoolFullContest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolSize = 2
	cfg.MaxPerSymbol = 0
	cfg.MaxPerSymbolSide = 0
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.mgr.Admit(ctx, testSnapshot("snap-a", "BTCUSDT", domain.BiasLong, 0.9))
	require.NoError(t, err)
	weak, err := f.mgr.Admit(ctx, testSnapshot("snap-b", "ETHUSDT", domain.BiasLong, 0.4))
	require.NoError(t, err)
	require.True(t, weak.Admitted)

	res, err := f.mgr.Admit(ctx, testSnapshot("snap-c", "SOLUSDT", domain.BiasShort, 0.8))
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	require.NotNil(t, res.Displaced)
	assert.Equal(t, weak.Candidate.CandidateID, res.Displaced.CandidateID)
	assert.Equal(t, domain.RejectReplacedGlobal, res.Displaced.RejectReason)

	pool, err := f.cands.GetPool(ctx)
	require.NoError(t, err)
	assert.Len(t, pool, 2)
}

func TestRunFillPass_EnteredCandidateOpensPosition(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	require.True(t, res.Admitted)
	f.enter(t, snap)

	require.NoError(t, f.mgr.RunFillPass(ctx))

	pos, err := f.poss.GetBySnapshotID(ctx, snap.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.Equal(t, 100.0, pos.FillPrice)
	assert.Equal(t, DefaultConfig().InitialEquity, pos.EquityAtFill)

	cand, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateFilled, cand.Status)
	assert.Equal(t, pos.PositionID, cand.PositionID)
}

func TestRunFillPass_UnenteredCandidateStaysActive(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	st := domain.NewMonitorState(snap, f.now.UnixMilli())
	require.NoError(t, f.states.Insert(ctx, st))

	require.NoError(t, f.mgr.RunFillPass(ctx))

	_, err = f.poss.GetBySnapshotID(ctx, snap.SnapshotID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	cand, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateActive, cand.Status)
}

func TestRunFillPass_NoSlotParksCandidateWaiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	f := newFixture(t, cfg)
	ctx := context.Background()

	first := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.9)
	second := testSnapshot("snap-2", "ETHUSDT", domain.BiasShort, 0.9)
	a, err := f.mgr.Admit(ctx, first)
	require.NoError(t, err)
	b, err := f.mgr.Admit(ctx, second)
	require.NoError(t, err)
	f.enter(t, first)
	f.enter(t, second)

	require.NoError(t, f.mgr.RunFillPass(ctx))

	filled, waiting := 0, 0
	for _, id := range []string{a.Candidate.CandidateID, b.Candidate.CandidateID} {
		c, err := f.cands.GetByID(ctx, id)
		require.NoError(t, err)
		switch c.Status {
		case domain.CandidateFilled:
			filled++
		case domain.CandidateWaiting:
			waiting++
			assert.Equal(t, f.now.UnixMilli()+cfg.FillRetryThrottle.Milliseconds(), c.NextFillCheckAt)
		}
	}
	assert.Equal(t, 1, filled)
	assert.Equal(t, 1, waiting)
}

func TestRunFillPass_RiskBudgetBlocksFill(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 10
	cfg.MaxPositionsPerSym = 10
	cfg.MaxPositionsPerSide = 10
	cfg.MaxTotalRiskR = 1.5
	cfg.RiskPerPositionR = 1.0
	f := newFixture(t, cfg)
	ctx := context.Background()

	first := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.9)
	second := testSnapshot("snap-2", "ETHUSDT", domain.BiasShort, 0.9)
	_, err := f.mgr.Admit(ctx, first)
	require.NoError(t, err)
	b, err := f.mgr.Admit(ctx, second)
	require.NoError(t, err)
	f.enter(t, first)
	f.enter(t, second)

	require.NoError(t, f.mgr.RunFillPass(ctx))

	open, err := f.poss.GetOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	c, err := f.cands.GetByID(ctx, b.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateWaiting, c.Status)
}

func TestRunFillPass_DuplicatePositionRaceAdoptsExisting(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	f.enter(t, snap)

	// A prior invocation crashed after inserting the position but before
	// marking the candidate filled.
	existing := &domain.Position{
		PositionID:   "pos-existing",
		SnapshotID:   snap.SnapshotID,
		CandidateID:  res.Candidate.CandidateID,
		Symbol:       snap.Symbol,
		Side:         snap.Bias,
		Status:       domain.PositionOpen,
		FillPrice:    100,
		EquityAtFill: 10_000,
		RiskR:        1.0,
		RiskPct:      0.01,
		OpenedAt:     f.now.UnixMilli(),
	}
	require.NoError(t, f.poss.Insert(ctx, existing))

	require.NoError(t, f.mgr.RunFillPass(ctx))

	open, err := f.poss.GetOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pos-existing", open[0].PositionID)

	cand, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateFilled, cand.Status)
	assert.Equal(t, "pos-existing", cand.PositionID)
}

func TestRunFillPass_ExpiredWaitingCandidateRejectedNoSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	cfg.CandidateTTL = time.Hour
	f := newFixture(t, cfg)
	ctx := context.Background()

	first := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.9)
	second := testSnapshot("snap-2", "ETHUSDT", domain.BiasShort, 0.9)
	_, err := f.mgr.Admit(ctx, first)
	require.NoError(t, err)
	b, err := f.mgr.Admit(ctx, second)
	require.NoError(t, err)
	f.enter(t, first)
	f.enter(t, second)

	require.NoError(t, f.mgr.RunFillPass(ctx))
	f.advance(2 * time.Hour)
	require.NoError(t, f.mgr.RunFillPass(ctx))

	c, err := f.cands.GetByID(ctx, b.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateRejected, c.Status)
	assert.Equal(t, domain.RejectNoSlot, c.RejectReason)
	assert.True(t, c.RejectReason.CounterfactualEligible())
}

func TestOnOutcome_ClosesPositionAndAppendsEquity(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	_, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	f.enter(t, snap)
	require.NoError(t, f.mgr.RunFillPass(ctx))

	out := &domain.Outcome{
		SnapshotID:     snap.SnapshotID,
		TerminalStatus: domain.StatusTP2,
		Class:          domain.OutcomeClassWin,
		TotalR:         1.7,
	}
	require.NoError(t, f.mgr.OnOutcome(ctx, out, 42))

	pos, err := f.poss.GetBySnapshotID(ctx, snap.SnapshotID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Equal(t, 1.7, pos.RealizedR)
	// 1.7R at 1% of 10k equity.
	assert.InDelta(t, 170.0, pos.RealizedPnL, 1e-9)

	eq, err := f.equity.Latest(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_170.0, eq.Equity, 1e-9)
	assert.InDelta(t, 10_170.0, eq.PeakEquity, 1e-9)
	assert.Equal(t, 0.0, eq.DrawdownPct)
	assert.Equal(t, int64(42), eq.Epoch)
	assert.Equal(t, 1, eq.Wins)
	assert.Equal(t, 0, eq.Losses)
}

func TestOnOutcome_LossDrawsDownFromPeak(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	winSnap := testSnapshot("snap-win", "BTCUSDT", domain.BiasLong, 0.8)
	_, err := f.mgr.Admit(ctx, winSnap)
	require.NoError(t, err)
	f.enter(t, winSnap)
	require.NoError(t, f.mgr.RunFillPass(ctx))
	require.NoError(t, f.mgr.OnOutcome(ctx, &domain.Outcome{
		SnapshotID: winSnap.SnapshotID, TerminalStatus: domain.StatusTP3,
		Class: domain.OutcomeClassWin, TotalR: 2.0,
	}, 1))

	lossSnap := testSnapshot("snap-loss", "ETHUSDT", domain.BiasShort, 0.8)
	_, err = f.mgr.Admit(ctx, lossSnap)
	require.NoError(t, err)
	f.enter(t, lossSnap)
	require.NoError(t, f.mgr.RunFillPass(ctx))
	require.NoError(t, f.mgr.OnOutcome(ctx, &domain.Outcome{
		SnapshotID: lossSnap.SnapshotID, TerminalStatus: domain.StatusSL,
		Class: domain.OutcomeClassLoss, TotalR: -1.0,
	}, 2))

	eq, err := f.equity.Latest(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_200.0, eq.PeakEquity, 1e-9)
	assert.Less(t, eq.Equity, eq.PeakEquity)
	assert.Greater(t, eq.DrawdownPct, 0.0)
	assert.Equal(t, 1, eq.Wins)
	assert.Equal(t, 1, eq.Losses)
}

func TestOnOutcome_CapacityRejectedGetsCounterfactual(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	weakSnap := testSnapshot("snap-weak", "BTCUSDT", domain.BiasLong, 0.4)
	weak, err := f.mgr.Admit(ctx, weakSnap)
	require.NoError(t, err)
	require.True(t, weak.Admitted)
	_, err = f.mgr.Admit(ctx, testSnapshot("snap-strong", "BTCUSDT", domain.BiasLong, 0.95))
	require.NoError(t, err)

	// The displaced scenario later resolves terminally.
	require.NoError(t, f.mgr.OnOutcome(ctx, &domain.Outcome{
		SnapshotID: weakSnap.SnapshotID, TerminalStatus: domain.StatusTP2,
		Class: domain.OutcomeClassWin, TotalR: 1.7,
	}, 3))

	c, err := f.cands.GetByID(ctx, weak.Candidate.CandidateID)
	require.NoError(t, err)
	require.True(t, c.CounterfactualSet)
	require.NotNil(t, c.CounterfactualR)
	assert.Equal(t, 1.7, *c.CounterfactualR)
}

func TestOnOutcome_MeritRejectedGetsNoCounterfactual(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = 0.99
	f := newFixture(t, cfg)
	ctx := context.Background()

	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.5)
	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	require.Equal(t, domain.RejectLowScore, res.Candidate.RejectReason)

	require.NoError(t, f.mgr.OnOutcome(ctx, &domain.Outcome{
		SnapshotID: snap.SnapshotID, TerminalStatus: domain.StatusTP2,
		Class: domain.OutcomeClassWin, TotalR: 1.7,
	}, 4))

	c, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.False(t, c.CounterfactualSet)
	assert.Nil(t, c.CounterfactualR)
}

func TestOnOutcome_PendingCandidateRejectedScenarioClosed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	require.True(t, res.Admitted)

	// Terminal before any fill pass promoted it.
	require.NoError(t, f.mgr.OnOutcome(ctx, &domain.Outcome{
		SnapshotID: snap.SnapshotID, TerminalStatus: domain.StatusSL,
		Class: domain.OutcomeClassLoss, TotalR: -1.0,
	}, 5))

	c, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateRejected, c.Status)
	assert.Equal(t, domain.RejectScenarioClosed, c.RejectReason)
	require.True(t, c.CounterfactualSet)
	assert.Equal(t, -1.0, *c.CounterfactualR)
}

func TestOnScenarioClosedWithoutEntry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	res, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)

	require.NoError(t, f.mgr.OnScenarioClosedWithoutEntry(ctx, snap.SnapshotID, domain.StatusExpired))

	c, err := f.cands.GetByID(ctx, res.Candidate.CandidateID)
	require.NoError(t, err)
	assert.Equal(t, domain.CandidateRejected, c.Status)
	assert.Equal(t, domain.RejectExpiredBeforeEntry, c.RejectReason)
	assert.False(t, c.RejectReason.CounterfactualEligible())
}

func TestOnOutcome_IdempotentSecondCall(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	snap := testSnapshot("snap-1", "BTCUSDT", domain.BiasLong, 0.8)

	_, err := f.mgr.Admit(ctx, snap)
	require.NoError(t, err)
	f.enter(t, snap)
	require.NoError(t, f.mgr.RunFillPass(ctx))

	out := &domain.Outcome{
		SnapshotID: snap.SnapshotID, TerminalStatus: domain.StatusTP2,
		Class: domain.OutcomeClassWin, TotalR: 1.7,
	}
	require.NoError(t, f.mgr.OnOutcome(ctx, out, 6))
	require.NoError(t, f.mgr.OnOutcome(ctx, out, 7))

	// Only the first call appends an equity snapshot.
	eq, err := f.equity.GetByTimeRange(ctx, 0, f.now.UnixMilli()+1)
	require.NoError(t, err)
	assert.Len(t, eq, 1)
}
