package domain

// CandidateStatus is the lifecycle state of a portfolio pool entry.
type CandidateStatus string

// Candidate status constants.
const (
	CandidateActive   CandidateStatus = "ACTIVE"
	CandidateWaiting  CandidateStatus = "WAITING_FOR_SLOT"
	CandidateFilled   CandidateStatus = "FILLED"
	CandidateRejected CandidateStatus = "REJECTED"
	CandidateExpired  CandidateStatus = "EXPIRED"
)

// RejectReason is the exhaustive set of reasons a candidate leaves the pool
// without being filled.
type RejectReason string

// Reject reason constants.
const (
	// Capacity-class reasons: the candidate lost a seat it could have used.
	RejectPoolFull           RejectReason = "POOL_FULL"
	RejectReplacedSameSymbol RejectReason = "REPLACED_BETTER_SAME_SYMBOL"
	RejectReplacedSameSide   RejectReason = "REPLACED_BETTER_SAME_SIDE"
	RejectReplacedGlobal     RejectReason = "REPLACED_BETTER_GLOBAL"
	RejectWeakerSameSymbol   RejectReason = "WEAKER_THAN_INCUMBENT_SAME_SYMBOL"
	RejectWeakerSameSide     RejectReason = "WEAKER_THAN_INCUMBENT_SAME_SIDE"
	RejectNoSlot             RejectReason = "NO_SLOT_AVAILABLE"
	RejectScenarioClosed     RejectReason = "SCENARIO_CLOSED_BEFORE_FILL"

	// Non-capacity reasons.
	RejectLowScore           RejectReason = "SCORE_BELOW_MINIMUM"
	RejectNeverEntered       RejectReason = "SCENARIO_CLOSED_WITHOUT_ENTRY"
	RejectExpiredBeforeEntry RejectReason = "SCENARIO_EXPIRED_BEFORE_ENTRY"
	RejectDuplicate          RejectReason = "DUPLICATE_SCENARIO"
)

// CounterfactualEligible reports whether a counterfactual R may be recorded
// for a candidate rejected with this reason. Only capacity-class rejections
// qualify: a scenario that never entered has no meaningful counterfactual,
// and a candidate that failed on merit was never going to be admitted.
func (r RejectReason) CounterfactualEligible() bool {
	switch r {
	case RejectPoolFull, RejectReplacedSameSymbol, RejectReplacedSameSide,
		RejectReplacedGlobal, RejectWeakerSameSymbol, RejectWeakerSameSide,
		RejectNoSlot, RejectScenarioClosed:
		return true
	default:
		return false
	}
}

// Candidate is a scored pool entry competing for a position slot.
// Corresponds to the portfolio_candidates table.
type Candidate struct {
	CandidateID string // PRIMARY KEY, UUID
	SnapshotID  string
	Symbol      string
	Side        Bias

	// Score and its components (weighted sum of expected value,
	// confidence, and a quality term).
	Score         float64
	EVComponent   float64
	ConfComponent float64
	QualComponent float64

	Status       CandidateStatus
	RejectReason RejectReason // empty unless rejected
	ReplacedBy   string       // candidate that displaced this one

	// Counterfactual outcome for capacity-rejected candidates.
	CounterfactualR   *float64
	CounterfactualSet bool

	CreatedAt       int64 // Unix ms
	ExpiresAt       int64 // pool TTL
	NextFillCheckAt int64 // retry throttle for WAITING_FOR_SLOT
	PositionID      string

	UpdatedAt int64
}

// PositionStatus is open or closed.
type PositionStatus string

// Position status constants.
const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is one entry in the portfolio ledger, created when a candidate
// fills. Corresponds to the portfolio_positions table. (snapshot_id is
// unique: the duplicate-creation race resolves to the existing row.)
type Position struct {
	PositionID  string // PRIMARY KEY, UUID
	SnapshotID  string // UNIQUE
	CandidateID string
	Symbol      string
	Side        Bias
	Status      PositionStatus

	FillPrice    float64
	EquityAtFill float64
	RiskR        float64 // risk allocated in R
	RiskPct      float64 // risk allocated as % of equity at fill

	RealizedR   float64
	RealizedPnL float64 // in equity units

	OpenedAt int64
	ClosedAt int64
}

// EquitySnapshot is an immutable point-in-time ledger state, appended on
// every position close. An audit trail, never mutated.
type EquitySnapshot struct {
	SnapshotID    string // PRIMARY KEY, UUID (not a scenario id)
	Epoch         int64  // tick epoch that produced the close
	Equity        float64
	PeakEquity    float64
	DrawdownPct   float64
	OpenPositions int
	Wins          int
	Losses        int
	CreatedAt     int64
}
