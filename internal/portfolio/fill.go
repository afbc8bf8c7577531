package portfolio

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// RunFillPass walks the candidate pool once and promotes candidates whose
// scenarios have entered into portfolio positions, subject to the slot and
// risk-budget limits. Candidates past their pool TTL are expired. Called
// once per engine tick, after replay, under the run-lock.
func (m *Manager) RunFillPass(ctx context.Context) error {
	now := m.nowMs()

	pool, err := m.candidates.GetPool(ctx)
	if err != nil {
		return fmt.Errorf("load candidate pool: %w", err)
	}

	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return fmt.Errorf("load open positions: %w", err)
	}
	slots := newSlotTable(open)

	equity := m.currentEquity(ctx)

	// Pool is score DESC: stronger candidates claim slots first.
	for _, cand := range pool {
		if cand.ExpiresAt <= now {
			m.expireCandidate(ctx, cand, now)
			continue
		}
		if cand.Status == domain.CandidateWaiting && cand.NextFillCheckAt > now {
			continue
		}

		st, err := m.states.GetBySnapshotID(ctx, cand.SnapshotID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Warn().
					Str("candidate_id", cand.CandidateID).
					Str("snapshot_id", cand.SnapshotID).
					Msg("pool candidate has no monitor state")
				continue
			}
			return fmt.Errorf("load state for %s: %w", cand.SnapshotID, err)
		}
		if !st.EntryOccurred || st.Status.IsTerminal() {
			continue
		}

		if err := m.tryFill(ctx, cand, st, slots, equity, now); err != nil {
			return err
		}
	}

	if m.metrics != nil {
		m.metrics.OpenPositions.Set(float64(slots.total))
		m.metrics.OpenRiskR.Set(slots.riskR)
		m.metrics.Equity.Set(equity)
	}
	return nil
}

// tryFill promotes one entered candidate into a position if a slot and risk
// budget are available. Failure to find room parks the candidate in
// WAITING_FOR_SLOT with a retry throttle rather than rejecting it; pool TTL
// bounds how long it may wait.
func (m *Manager) tryFill(ctx context.Context, cand *domain.Candidate, st *domain.MonitorState, slots *slotTable, equity float64, now int64) error {
	// The scenario may already hold a position from a prior tick that
	// crashed between insert and candidate update.
	if existing, err := m.positions.GetBySnapshotID(ctx, cand.SnapshotID); err == nil {
		return m.markFilled(ctx, cand, existing, now)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("position lookup for %s: %w", cand.SnapshotID, err)
	}

	if !slots.fits(m.cfg, cand.Symbol, cand.Side) {
		return m.parkWaiting(ctx, cand, now)
	}

	pos := &domain.Position{
		PositionID:   uuid.NewString(),
		SnapshotID:   cand.SnapshotID,
		CandidateID:  cand.CandidateID,
		Symbol:       cand.Symbol,
		Side:         cand.Side,
		Status:       domain.PositionOpen,
		FillPrice:    st.AvgEntryPrice,
		EquityAtFill: equity,
		RiskR:        m.cfg.RiskPerPositionR,
		RiskPct:      m.cfg.RiskPctPerPosition,
		OpenedAt:     now,
	}

	if err := m.positions.Insert(ctx, pos); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Lost the unique-snapshot race; adopt the winner's row.
			existing, lookupErr := m.positions.GetBySnapshotID(ctx, cand.SnapshotID)
			if lookupErr != nil {
				return fmt.Errorf("recover duplicate position for %s: %w", cand.SnapshotID, lookupErr)
			}
			return m.markFilled(ctx, cand, existing, now)
		}
		return fmt.Errorf("insert position for %s: %w", cand.SnapshotID, err)
	}

	slots.add(pos)
	if m.metrics != nil {
		m.metrics.PositionsFilled.Inc()
	}
	log.Info().
		Str("position_id", pos.PositionID).
		Str("snapshot_id", pos.SnapshotID).
		Str("symbol", pos.Symbol).
		Float64("fill_price", pos.FillPrice).
		Float64("risk_r", pos.RiskR).
		Msg("position opened")

	return m.markFilled(ctx, cand, pos, now)
}

func (m *Manager) markFilled(ctx context.Context, cand *domain.Candidate, pos *domain.Position, now int64) error {
	cand.Status = domain.CandidateFilled
	cand.PositionID = pos.PositionID
	cand.UpdatedAt = now
	if err := m.candidates.Update(ctx, cand); err != nil {
		return fmt.Errorf("mark candidate %s filled: %w", cand.CandidateID, err)
	}
	return nil
}

func (m *Manager) parkWaiting(ctx context.Context, cand *domain.Candidate, now int64) error {
	cand.Status = domain.CandidateWaiting
	cand.NextFillCheckAt = now + m.cfg.FillRetryThrottle.Milliseconds()
	cand.UpdatedAt = now
	if err := m.candidates.Update(ctx, cand); err != nil {
		return fmt.Errorf("park candidate %s: %w", cand.CandidateID, err)
	}
	return nil
}

// expireCandidate closes out a candidate whose pool TTL elapsed. One that
// waited for a slot and never got one counts as a capacity rejection; one
// that simply never entered is expired without counterfactual standing.
func (m *Manager) expireCandidate(ctx context.Context, cand *domain.Candidate, now int64) {
	if cand.Status == domain.CandidateWaiting {
		m.reject(ctx, cand, domain.RejectNoSlot, "", now)
	} else {
		cand.Status = domain.CandidateExpired
		cand.UpdatedAt = now
	}
	if err := m.candidates.Update(ctx, cand); err != nil {
		log.Error().Err(err).Str("candidate_id", cand.CandidateID).Msg("expire candidate failed")
	}
}

func (m *Manager) currentEquity(ctx context.Context) float64 {
	latest, err := m.equity.Latest(ctx)
	if err != nil {
		return m.cfg.InitialEquity
	}
	return latest.Equity
}

// slotTable tracks position occupancy within one fill pass so that earlier
// fills in the pass count against later candidates.
type slotTable struct {
	total  int
	bySym  map[string]int
	bySide map[string]int // symbol + "|" + side
	riskR  float64
}

func newSlotTable(open []*domain.Position) *slotTable {
	t := &slotTable{
		bySym:  make(map[string]int),
		bySide: make(map[string]int),
	}
	for _, p := range open {
		t.add(p)
	}
	return t
}

func (t *slotTable) add(p *domain.Position) {
	t.total++
	t.bySym[p.Symbol]++
	t.bySide[p.Symbol+"|"+string(p.Side)]++
	t.riskR += p.RiskR
}

func (t *slotTable) fits(cfg Config, symbol string, side domain.Bias) bool {
	if cfg.MaxPositions > 0 && t.total >= cfg.MaxPositions {
		return false
	}
	if cfg.MaxPositionsPerSym > 0 && t.bySym[symbol] >= cfg.MaxPositionsPerSym {
		return false
	}
	if cfg.MaxPositionsPerSide > 0 && t.bySide[symbol+"|"+string(side)] >= cfg.MaxPositionsPerSide {
		return false
	}
	if cfg.MaxTotalRiskR > 0 && t.riskR+cfg.RiskPerPositionR > cfg.MaxTotalRiskR {
		return false
	}
	return true
}
