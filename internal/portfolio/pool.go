package portfolio

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
)

// AdmitResult reports what happened to a snapshot offered to the pool.
type AdmitResult struct {
	Candidate *domain.Candidate
	Admitted  bool
	Displaced *domain.Candidate // incumbent removed to make room, if any
}

// Admit scores a snapshot and offers it to the candidate pool. The pool is
// bounded: an arriving candidate that finds no free seat must beat an
// incumbent to enter. Contests run narrowest first: same (symbol, side),
// then same symbol, then the whole pool. Losing any applicable contest
// rejects the arrival; winning displaces the weakest incumbent in that
// contest group.
func (m *Manager) Admit(ctx context.Context, snap *domain.Snapshot) (*AdmitResult, error) {
	now := m.nowMs()

	existing, err := m.candidates.GetBySnapshotID(ctx, snap.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("lookup candidates for %s: %w", snap.SnapshotID, err)
	}
	for _, c := range existing {
		if c.Status == domain.CandidateActive || c.Status == domain.CandidateWaiting ||
			c.Status == domain.CandidateFilled {
			dup := m.newCandidate(snap, scoreComponents{}, now)
			m.reject(ctx, dup, domain.RejectDuplicate, "", now)
			if err := m.candidates.Insert(ctx, dup); err != nil {
				return nil, fmt.Errorf("record duplicate candidate: %w", err)
			}
			return &AdmitResult{Candidate: dup}, nil
		}
	}

	sc := scoreSnapshot(snap, m.cfg.Weights)
	cand := m.newCandidate(snap, sc, now)

	if sc.total < m.cfg.MinScore {
		m.reject(ctx, cand, domain.RejectLowScore, "", now)
		if err := m.candidates.Insert(ctx, cand); err != nil {
			return nil, fmt.Errorf("record rejected candidate: %w", err)
		}
		return &AdmitResult{Candidate: cand}, nil
	}

	pool, err := m.candidates.GetPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}

	var sameSide, sameSym []*domain.Candidate
	for _, c := range pool {
		if c.Symbol == cand.Symbol {
			sameSym = append(sameSym, c)
			if c.Side == cand.Side {
				sameSide = append(sameSide, c)
			}
		}
	}

	var displaced *domain.Candidate
	var displaceReason domain.RejectReason

	switch {
	case m.cfg.MaxPerSymbolSide > 0 && len(sameSide) >= m.cfg.MaxPerSymbolSide:
		weakest := weakestOf(sameSide)
		if weakest.Score >= cand.Score {
			m.reject(ctx, cand, domain.RejectWeakerSameSide, weakest.CandidateID, now)
			if err := m.candidates.Insert(ctx, cand); err != nil {
				return nil, fmt.Errorf("record rejected candidate: %w", err)
			}
			return &AdmitResult{Candidate: cand}, nil
		}
		displaced, displaceReason = weakest, domain.RejectReplacedSameSide

	case m.cfg.MaxPerSymbol > 0 && len(sameSym) >= m.cfg.MaxPerSymbol:
		weakest := weakestOf(sameSym)
		if weakest.Score >= cand.Score {
			m.reject(ctx, cand, domain.RejectWeakerSameSymbol, weakest.CandidateID, now)
			if err := m.candidates.Insert(ctx, cand); err != nil {
				return nil, fmt.Errorf("record rejected candidate: %w", err)
			}
			return &AdmitResult{Candidate: cand}, nil
		}
		displaced, displaceReason = weakest, domain.RejectReplacedSameSymbol

	case m.cfg.PoolSize > 0 && len(pool) >= m.cfg.PoolSize:
		weakest := weakestOf(pool)
		if weakest.Score >= cand.Score {
			m.reject(ctx, cand, domain.RejectPoolFull, weakest.CandidateID, now)
			if err := m.candidates.Insert(ctx, cand); err != nil {
				return nil, fmt.Errorf("record rejected candidate: %w", err)
			}
			return &AdmitResult{Candidate: cand}, nil
		}
		displaced, displaceReason = weakest, domain.RejectReplacedGlobal
	}

	if displaced != nil {
		m.reject(ctx, displaced, displaceReason, cand.CandidateID, now)
		if err := m.candidates.Update(ctx, displaced); err != nil {
			return nil, fmt.Errorf("displace incumbent %s: %w", displaced.CandidateID, err)
		}
		log.Info().
			Str("candidate_id", displaced.CandidateID).
			Str("replaced_by", cand.CandidateID).
			Str("reason", string(displaceReason)).
			Float64("incumbent_score", displaced.Score).
			Float64("arrival_score", cand.Score).
			Msg("pool incumbent displaced")
	}

	cand.Status = domain.CandidateActive
	if err := m.candidates.Insert(ctx, cand); err != nil {
		return nil, fmt.Errorf("insert candidate: %w", err)
	}
	if m.metrics != nil {
		m.metrics.CandidatesAdmitted.Inc()
	}
	log.Info().
		Str("candidate_id", cand.CandidateID).
		Str("snapshot_id", cand.SnapshotID).
		Str("symbol", cand.Symbol).
		Float64("score", cand.Score).
		Msg("candidate admitted to pool")

	return &AdmitResult{Candidate: cand, Admitted: true, Displaced: displaced}, nil
}

func (m *Manager) newCandidate(snap *domain.Snapshot, sc scoreComponents, now int64) *domain.Candidate {
	return &domain.Candidate{
		CandidateID:   uuid.NewString(),
		SnapshotID:    snap.SnapshotID,
		Symbol:        snap.Symbol,
		Side:          snap.Bias,
		Score:         sc.total,
		EVComponent:   sc.ev,
		ConfComponent: sc.conf,
		QualComponent: sc.qual,
		CreatedAt:     now,
		ExpiresAt:     now + m.cfg.CandidateTTL.Milliseconds(),
		UpdatedAt:     now,
	}
}

// reject mutates the candidate into REJECTED and records the metric. The
// caller persists it.
func (m *Manager) reject(_ context.Context, c *domain.Candidate, reason domain.RejectReason, replacedBy string, now int64) {
	c.Status = domain.CandidateRejected
	c.RejectReason = reason
	c.ReplacedBy = replacedBy
	c.UpdatedAt = now
	if m.metrics != nil {
		m.metrics.CandidatesRejected.WithLabelValues(string(reason)).Inc()
	}
}

// weakestOf returns the lowest-scored candidate. Ties break toward the
// older entry so the pool keeps fresher scenarios.
func weakestOf(cands []*domain.Candidate) *domain.Candidate {
	weakest := cands[0]
	for _, c := range cands[1:] {
		if c.Score < weakest.Score ||
			(c.Score == weakest.Score && c.CreatedAt < weakest.CreatedAt) {
			weakest = c
		}
	}
	return weakest
}
