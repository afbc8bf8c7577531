// Package outcome turns terminal scenarios into immutable outcome records.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/observability"
	"trade-forwardtest/internal/storage"
)

// Portfolio receives the settled outcome.
type Portfolio interface {
	OnOutcome(ctx context.Context, out *domain.Outcome, epoch int64) error
}

// Recorder builds exactly one Outcome per terminal scenario and settles the
// portfolio against it.
type Recorder struct {
	outcomes  storage.OutcomeStore
	events    storage.EventStore
	portfolio Portfolio
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewRecorder creates a recorder. Metrics and clock are optional.
func NewRecorder(outcomes storage.OutcomeStore, events storage.EventStore, portfolio Portfolio, metrics *observability.Metrics, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{
		outcomes:  outcomes,
		events:    events,
		portfolio: portfolio,
		metrics:   metrics,
		now:       clock,
	}
}

// RecordTerminal derives the outcome from the terminal state, persists it,
// and notifies the portfolio. Idempotent: a second call for the same
// scenario settles the portfolio again (itself idempotent) without writing
// a second record.
func (r *Recorder) RecordTerminal(ctx context.Context, snap *domain.Snapshot, st *domain.MonitorState, epoch int64) error {
	if !st.Status.IsTerminal() {
		return fmt.Errorf("scenario %s not terminal: %w", st.SnapshotID, storage.ErrInvalidInput)
	}

	out := buildOutcome(st, r.now().UnixMilli())
	if trace, err := r.buildTrace(ctx, st.SnapshotID); err != nil {
		// The trace is forensic, not load-bearing; record without it.
		log.Warn().Err(err).Str("snapshot_id", st.SnapshotID).Msg("trace build failed")
	} else {
		out.Trace = trace
	}

	err := r.outcomes.Insert(ctx, out)
	switch {
	case err == nil:
		if r.metrics != nil {
			r.metrics.OutcomesRecorded.WithLabelValues(string(out.Class)).Inc()
		}
		log.Info().
			Str("snapshot_id", out.SnapshotID).
			Str("symbol", snap.Symbol).
			Str("status", string(out.TerminalStatus)).
			Str("class", string(out.Class)).
			Float64("total_r", out.TotalR).
			Msg("outcome recorded")
	case errors.Is(err, storage.ErrDuplicateKey):
		// Crash-replay path; keep the original record.
		existing, lookupErr := r.outcomes.GetBySnapshotID(ctx, st.SnapshotID)
		if lookupErr != nil {
			return fmt.Errorf("load existing outcome for %s: %w", st.SnapshotID, lookupErr)
		}
		out = existing
	default:
		return fmt.Errorf("insert outcome for %s: %w", st.SnapshotID, err)
	}

	if settleErr := r.portfolio.OnOutcome(ctx, out, epoch); settleErr != nil {
		return fmt.Errorf("settle portfolio for %s: %w", st.SnapshotID, settleErr)
	}
	return nil
}

// buildOutcome maps the terminal state into the immutable record. The class
// comes from total R, never from the status label: a BE exit after a
// profitable TP1 partial is a WIN.
func buildOutcome(st *domain.MonitorState, now int64) *domain.Outcome {
	return &domain.Outcome{
		SnapshotID:       st.SnapshotID,
		TerminalStatus:   st.Status,
		Class:            domain.ClassifyR(st.RealizedR),
		RealizedRFromTP1: st.RealizedRFromTP1,
		RemainderR:       st.RealizedR - st.RealizedRFromTP1,
		TotalR:           st.RealizedR,
		FillPctAtExit:    st.FillPct,
		MAEPrice:         st.MAEPrice,
		MFEPrice:         st.MFEPrice,
		MAER:             st.MAER,
		MFER:             st.MFER,
		TriggeredAt:      st.TriggeredAt,
		EnteredAt:        st.EnteredAt,
		ExitedAt:         st.ClosedAt,
		CreatedAt:        now,
	}
}

// buildTrace compacts the event log into the trace kept on the outcome,
// which survives event pruning.
func (r *Recorder) buildTrace(ctx context.Context, snapshotID string) ([]domain.TraceStep, error) {
	events, err := r.events.GetBySnapshotID(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	trace := make([]domain.TraceStep, 0, len(events))
	for _, ev := range events {
		trace = append(trace, domain.TraceStep{
			Seq:   ev.Seq,
			Kind:  ev.Kind,
			Ts:    ev.Timestamp,
			Price: ev.Price,
		})
	}
	return trace, nil
}
