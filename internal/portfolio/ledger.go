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

// OnOutcome settles the portfolio side of a terminal scenario: the open
// position (if one exists) is closed and realized into a new equity
// snapshot, and every candidate still pending on the scenario is rejected.
// Capacity-rejected candidates receive the outcome's total R as their
// counterfactual. Idempotent: a scenario with no open position and no
// pending candidates is a no-op.
func (m *Manager) OnOutcome(ctx context.Context, out *domain.Outcome, epoch int64) error {
	now := m.nowMs()

	pos, err := m.positions.GetBySnapshotID(ctx, out.SnapshotID)
	switch {
	case err == nil:
		if pos.Status == domain.PositionOpen {
			if err := m.closePosition(ctx, pos, out, epoch, now); err != nil {
				return err
			}
		}
	case errors.Is(err, storage.ErrNotFound):
		// Scenario finished without ever being promoted.
	default:
		return fmt.Errorf("position lookup for %s: %w", out.SnapshotID, err)
	}

	if err := m.settleCandidates(ctx, out, now); err != nil {
		return err
	}
	return nil
}

func (m *Manager) closePosition(ctx context.Context, pos *domain.Position, out *domain.Outcome, epoch, now int64) error {
	pos.Status = domain.PositionClosed
	pos.RealizedR = out.TotalR
	pos.RealizedPnL = out.TotalR * pos.RiskPct * pos.EquityAtFill
	pos.ClosedAt = now
	if err := m.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("close position %s: %w", pos.PositionID, err)
	}

	if err := m.appendEquity(ctx, pos, out, epoch, now); err != nil {
		return err
	}

	log.Info().
		Str("position_id", pos.PositionID).
		Str("snapshot_id", pos.SnapshotID).
		Str("class", string(out.Class)).
		Float64("realized_r", pos.RealizedR).
		Float64("realized_pnl", pos.RealizedPnL).
		Msg("position closed")
	return nil
}

// appendEquity writes the post-close ledger state. The chain seeds from
// InitialEquity when no prior snapshot exists.
func (m *Manager) appendEquity(ctx context.Context, pos *domain.Position, out *domain.Outcome, epoch, now int64) error {
	equity := m.cfg.InitialEquity
	peak := m.cfg.InitialEquity
	wins, losses := 0, 0
	if prev, err := m.equity.Latest(ctx); err == nil {
		equity = prev.Equity
		peak = prev.PeakEquity
		wins = prev.Wins
		losses = prev.Losses
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load latest equity: %w", err)
	}

	equity += pos.RealizedPnL
	if equity > peak {
		peak = equity
	}
	var drawdown float64
	if peak > 0 {
		drawdown = (peak - equity) / peak
	}
	switch out.Class {
	case domain.OutcomeClassWin:
		wins++
	case domain.OutcomeClassLoss:
		losses++
	}

	openCount := 0
	if open, err := m.positions.GetOpen(ctx); err == nil {
		openCount = len(open)
	}

	snap := &domain.EquitySnapshot{
		SnapshotID:    uuid.NewString(),
		Epoch:         epoch,
		Equity:        equity,
		PeakEquity:    peak,
		DrawdownPct:   drawdown,
		OpenPositions: openCount,
		Wins:          wins,
		Losses:        losses,
		CreatedAt:     now,
	}
	if err := m.equity.Append(ctx, snap); err != nil {
		return fmt.Errorf("append equity snapshot: %w", err)
	}
	if m.metrics != nil {
		m.metrics.Equity.Set(equity)
		m.metrics.OpenPositions.Set(float64(openCount))
	}
	return nil
}

// settleCandidates finishes every candidate still referencing the scenario.
// Pending ones are rejected as closed-before-fill; capacity-class rejections
// that have not yet received a counterfactual get the outcome's total R.
func (m *Manager) settleCandidates(ctx context.Context, out *domain.Outcome, now int64) error {
	cands, err := m.candidates.GetBySnapshotID(ctx, out.SnapshotID)
	if err != nil {
		return fmt.Errorf("lookup candidates for %s: %w", out.SnapshotID, err)
	}
	for _, c := range cands {
		changed := false
		if c.Status == domain.CandidateActive || c.Status == domain.CandidateWaiting {
			m.reject(ctx, c, domain.RejectScenarioClosed, "", now)
			changed = true
		}
		if c.Status == domain.CandidateRejected &&
			c.RejectReason.CounterfactualEligible() && !c.CounterfactualSet {
			r := out.TotalR
			c.CounterfactualR = &r
			c.CounterfactualSet = true
			c.UpdatedAt = now
			changed = true
		}
		if changed {
			if err := m.candidates.Update(ctx, c); err != nil {
				return fmt.Errorf("settle candidate %s: %w", c.CandidateID, err)
			}
		}
	}
	return nil
}

// OnScenarioClosedWithoutEntry retires candidates for a scenario that
// reached a terminal state without ever filling an entry order. No outcome
// and no counterfactual exist for these.
func (m *Manager) OnScenarioClosedWithoutEntry(ctx context.Context, snapshotID string, status domain.MonitorStatus) error {
	now := m.nowMs()
	reason := domain.RejectNeverEntered
	if status == domain.StatusExpired {
		reason = domain.RejectExpiredBeforeEntry
	}

	cands, err := m.candidates.GetBySnapshotID(ctx, snapshotID)
	if err != nil {
		return fmt.Errorf("lookup candidates for %s: %w", snapshotID, err)
	}
	for _, c := range cands {
		if c.Status != domain.CandidateActive && c.Status != domain.CandidateWaiting {
			continue
		}
		m.reject(ctx, c, reason, "", now)
		if err := m.candidates.Update(ctx, c); err != nil {
			return fmt.Errorf("retire candidate %s: %w", c.CandidateID, err)
		}
	}
	return nil
}
