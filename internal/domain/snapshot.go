package domain

// Bias is the directional bias of a scenario.
type Bias string

// Bias constants.
const (
	BiasLong  Bias = "LONG"
	BiasShort Bias = "SHORT"
)

// Sign returns +1 for long, -1 for short.
func (b Bias) Sign() int {
	if b == BiasShort {
		return -1
	}
	return 1
}

// EntryOrder is one rung of the entry ladder.
type EntryOrder struct {
	Price   float64 // limit level
	SizePct float64 // fraction of full position size, (0, 1]
}

// Snapshot is the immutable definition of a generated trade scenario.
// Created once by the generator intake; never mutated; deleted only by
// the retention sweep. Corresponds to the scenario_snapshots table.
type Snapshot struct {
	SnapshotID string // PRIMARY KEY, deterministic hash
	Symbol     string
	Timeframe  string
	Bias       Bias
	Archetype  string // setup family, e.g. "breakout_retest"

	// Price ladder
	EntryOrders []EntryOrder // 1..n rungs, size percents sum to 1.0
	StopLoss    float64
	TakeProfits []float64 // 1..3 levels, ordered away from entry

	// Breakeven policy
	BreakevenAfterTP1 bool
	BreakevenPrice    *float64 // override; nil means average entry

	// Scores from the generator
	Confidence     float64  // [0, 1]
	ExpectedValueR *float64 // expected value in R, nullable

	// Lifetime
	GeneratedAt int64 // Unix ms
	ExpiresAt   int64 // GeneratedAt + TTL

	// Version stamp for cohort comparison
	SchemaVersion string
	PromptVersion string
	CodeVersion   string

	// RawPayload keeps the generator's original JSON for audit only.
	// Business logic never reads it.
	RawPayload []byte

	CreatedAt int64 // record creation timestamp (ms)
}

// Expired reports whether the scenario TTL has elapsed at ts.
func (s *Snapshot) Expired(ts int64) bool {
	return ts >= s.ExpiresAt
}
