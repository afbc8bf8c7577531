// Package intake is the boundary where generator output becomes scenarios.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/idhash"
	"trade-forwardtest/internal/storage"
)

// Record is one scenario as emitted by the generator.
type Record struct {
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Bias      domain.Bias `json:"bias"`
	Archetype string      `json:"archetype"`

	EntryOrders []domain.EntryOrder `json:"entry_orders"`
	StopLoss    float64             `json:"stop_loss"`
	TakeProfits []float64           `json:"take_profits"`

	BreakevenAfterTP1 bool     `json:"breakeven_after_tp1"`
	BreakevenPrice    *float64 `json:"breakeven_price,omitempty"`

	Confidence     float64  `json:"confidence"`
	ExpectedValueR *float64 `json:"expected_value_r,omitempty"`

	GeneratedAt int64 `json:"generated_at"`
	TTLHours    int64 `json:"ttl_hours"`

	SchemaVersion string `json:"schema_version"`
	PromptVersion string `json:"prompt_version"`
	CodeVersion   string `json:"code_version"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the record and keeps the original bytes, which end
// up on the snapshot as the audit payload.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (r *Record) scope() string {
	return r.Symbol + "/" + r.Timeframe + "/" + r.Archetype
}

// ScopeError is one failed record within a batch, keyed by its scope.
type ScopeError struct {
	Scope string
	Err   error
}

// BatchResult summarizes one intake batch. Errors never abort the batch;
// every record is attempted.
type BatchResult struct {
	Created    []string // snapshot ids
	Duplicates int
	Errors     []ScopeError
}

// Admitter offers created snapshots to the portfolio pool.
type Admitter interface {
	Admit(ctx context.Context, snap *domain.Snapshot) error
}

// Intake validates generator records and creates snapshots with their
// initial ARMED monitor states.
type Intake struct {
	snapshots storage.SnapshotStore
	states    storage.MonitorStateStore
	admitter  Admitter
	nowMs     func() int64
}

// New creates an intake. The admitter may be nil when no portfolio runs
// (offline simulation).
func New(snapshots storage.SnapshotStore, states storage.MonitorStateStore, admitter Admitter, nowMs func() int64) *Intake {
	return &Intake{
		snapshots: snapshots,
		states:    states,
		admitter:  admitter,
		nowMs:     nowMs,
	}
}

// CreateBatch processes every record in the batch. Invalid records and
// storage failures are collected per scope; a replayed record whose
// deterministic id already exists counts as a duplicate, not an error.
func (i *Intake) CreateBatch(ctx context.Context, records []Record) *BatchResult {
	res := &BatchResult{}
	for idx := range records {
		rec := &records[idx]
		id, err := i.createOne(ctx, rec)
		switch {
		case err == nil:
			res.Created = append(res.Created, id)
		case errors.Is(err, storage.ErrDuplicateKey):
			res.Duplicates++
		default:
			res.Errors = append(res.Errors, ScopeError{Scope: rec.scope(), Err: err})
			log.Warn().Err(err).Str("scope", rec.scope()).Msg("intake record failed")
		}
	}
	log.Info().
		Int("created", len(res.Created)).
		Int("duplicates", res.Duplicates).
		Int("errors", len(res.Errors)).
		Msg("intake batch processed")
	return res
}

func (i *Intake) createOne(ctx context.Context, rec *Record) (string, error) {
	if err := Validate(rec); err != nil {
		return "", err
	}

	now := i.nowMs()
	snap := &domain.Snapshot{
		SnapshotID:        idhash.ComputeSnapshotID(rec.Symbol, rec.Timeframe, rec.Bias, rec.Archetype, rec.GeneratedAt),
		Symbol:            rec.Symbol,
		Timeframe:         rec.Timeframe,
		Bias:              rec.Bias,
		Archetype:         rec.Archetype,
		EntryOrders:       rec.EntryOrders,
		StopLoss:          rec.StopLoss,
		TakeProfits:       rec.TakeProfits,
		BreakevenAfterTP1: rec.BreakevenAfterTP1,
		BreakevenPrice:    rec.BreakevenPrice,
		Confidence:        rec.Confidence,
		ExpectedValueR:    rec.ExpectedValueR,
		GeneratedAt:       rec.GeneratedAt,
		ExpiresAt:         rec.GeneratedAt + rec.TTLHours*3_600_000,
		SchemaVersion:     rec.SchemaVersion,
		PromptVersion:     rec.PromptVersion,
		CodeVersion:       rec.CodeVersion,
		RawPayload:        rec.Raw,
		CreatedAt:         now,
	}

	if err := i.snapshots.Insert(ctx, snap); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	if err := i.states.Insert(ctx, domain.NewMonitorState(snap, now)); err != nil {
		// The snapshot row exists but the state does not; a replayed batch
		// will not heal it, so surface the inconsistency.
		return "", fmt.Errorf("insert initial state for %s: %w", snap.SnapshotID, err)
	}
	if i.admitter != nil {
		if err := i.admitter.Admit(ctx, snap); err != nil {
			return "", fmt.Errorf("admit %s: %w", snap.SnapshotID, err)
		}
	}
	return snap.SnapshotID, nil
}

// Validate checks a generator record's structural soundness. Every failure
// wraps storage.ErrInvalidInput.
func Validate(rec *Record) error {
	if rec.Symbol == "" || rec.Timeframe == "" {
		return invalid("symbol and timeframe required")
	}
	if rec.Bias != domain.BiasLong && rec.Bias != domain.BiasShort {
		return invalid("bias must be LONG or SHORT, got %q", rec.Bias)
	}
	if len(rec.EntryOrders) == 0 {
		return invalid("at least one entry order required")
	}
	var sizeSum float64
	for idx, o := range rec.EntryOrders {
		if o.Price <= 0 {
			return invalid("entry order %d: price must be positive", idx)
		}
		if o.SizePct <= 0 || o.SizePct > 1 {
			return invalid("entry order %d: size pct must be in (0, 1]", idx)
		}
		sizeSum += o.SizePct
	}
	if math.Abs(sizeSum-1.0) > 1e-6 {
		return invalid("entry order sizes sum to %f, want 1.0", sizeSum)
	}

	sign := float64(rec.Bias.Sign())
	for idx, o := range rec.EntryOrders {
		if sign*(o.Price-rec.StopLoss) <= 0 {
			return invalid("entry order %d at %f not beyond stop %f for %s", idx, o.Price, rec.StopLoss, rec.Bias)
		}
	}

	if n := len(rec.TakeProfits); n < 1 || n > 3 {
		return invalid("take profits must number 1 to 3, got %d", n)
	}
	prev := maxEntry(rec.EntryOrders, rec.Bias)
	for idx, tp := range rec.TakeProfits {
		if sign*(tp-prev) <= 0 {
			return invalid("take profit %d at %f not ordered away from entry for %s", idx+1, tp, rec.Bias)
		}
		prev = tp
	}

	if rec.Confidence < 0 || rec.Confidence > 1 {
		return invalid("confidence %f outside [0, 1]", rec.Confidence)
	}
	if rec.GeneratedAt <= 0 {
		return invalid("generated_at required")
	}
	if rec.TTLHours <= 0 {
		return invalid("ttl hours must be positive, got %d", rec.TTLHours)
	}
	return nil
}

// maxEntry returns the entry rung closest to the take-profit side.
func maxEntry(orders []domain.EntryOrder, bias domain.Bias) float64 {
	best := orders[0].Price
	for _, o := range orders[1:] {
		if bias == domain.BiasLong && o.Price > best {
			best = o.Price
		}
		if bias == domain.BiasShort && o.Price < best {
			best = o.Price
		}
	}
	return best
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, storage.ErrInvalidInput)...)
}
