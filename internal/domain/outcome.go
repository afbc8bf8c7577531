package domain

// OutcomeClass is the terminal win/loss classification.
// Derived from total R, never from the terminal status label alone:
// a BE exit after a profitable partial close is a WIN.
type OutcomeClass string

// Outcome class constants.
const (
	OutcomeClassWin       OutcomeClass = "WIN"
	OutcomeClassLoss      OutcomeClass = "LOSS"
	OutcomeClassBreakeven OutcomeClass = "BREAKEVEN"
)

// ClassifyR maps a total R to an outcome class. The epsilon absorbs
// float noise from slippage arithmetic around zero.
func ClassifyR(totalR float64) OutcomeClass {
	const eps = 1e-9
	switch {
	case totalR > eps:
		return OutcomeClassWin
	case totalR < -eps:
		return OutcomeClassLoss
	default:
		return OutcomeClassBreakeven
	}
}

// TraceStep is one step of the compact forensic trace kept on an Outcome.
// It survives event-log pruning.
type TraceStep struct {
	Seq   int       `json:"seq"`
	Kind  EventKind `json:"kind"`
	Ts    int64     `json:"ts"`
	Price float64   `json:"price"`
}

// Outcome is the immutable terminal record for a scenario. Exactly one may
// exist per Snapshot; double-creation is rejected, not silently duplicated.
type Outcome struct {
	SnapshotID     string // PRIMARY KEY, 1:1 with Snapshot
	TerminalStatus MonitorStatus
	Class          OutcomeClass

	// R accounting
	RealizedRFromTP1 float64 // partial close at the first take-profit
	RemainderR       float64 // from the unclosed percentage at exit
	TotalR           float64
	FillPctAtExit    float64

	// Excursion extremes
	MAEPrice float64
	MFEPrice float64
	MAER     float64
	MFER     float64

	// Timing deltas (Unix ms)
	TriggeredAt int64
	EnteredAt   int64
	ExitedAt    int64

	Trace []TraceStep

	CreatedAt int64
}
