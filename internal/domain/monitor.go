package domain

// MonitorStatus is the state of a scenario's monitor state machine.
type MonitorStatus string

// Monitor status constants. TP1 is a non-terminal milestone, not an outcome.
const (
	StatusArmed     MonitorStatus = "ARMED"
	StatusTriggered MonitorStatus = "TRIGGERED"
	StatusEntered   MonitorStatus = "ENTERED"
	StatusTP1       MonitorStatus = "TP1"
	StatusTP2       MonitorStatus = "TP2"
	StatusTP3       MonitorStatus = "TP3"
	StatusSL        MonitorStatus = "SL"
	StatusBE        MonitorStatus = "BE"
	StatusExpired   MonitorStatus = "EXPIRED"
	StatusInvalid   MonitorStatus = "INVALID"
)

// IsTerminal reports whether the status is absorbing: once reached, no
// further candles are consumed for the scenario.
func (s MonitorStatus) IsTerminal() bool {
	switch s {
	case StatusTP2, StatusTP3, StatusSL, StatusBE, StatusExpired, StatusInvalid:
		return true
	default:
		return false
	}
}

// FilledOrder is one entry in the filled-order ledger.
type FilledOrder struct {
	OrderIndex int     // index into Snapshot.EntryOrders
	FillPrice  float64 // after slippage
	SizePct    float64
	FilledAt   int64 // candle open time, Unix ms
}

// MonitorState is the single mutable record per scenario. It is mutated
// exclusively by the monitor tick engine while it holds the run-lock.
// LastCandleTS is the replay checkpoint: candles at or before it are
// already consumed and must never be applied again.
type MonitorState struct {
	SnapshotID    string // PRIMARY KEY, 1:1 with Snapshot
	Status        MonitorStatus
	DirectionSign int // +1 long, -1 short

	// Entry accounting
	FilledOrders  []FilledOrder
	AvgEntryPrice float64 // size-weighted over FilledOrders
	FillPct       float64 // cumulative filled size fraction

	// InitialRiskPerUnit is |avg_entry - stop_loss| at the moment of
	// entry. Set exactly once, never recomputed; the single source of
	// truth for R normalization even after the stop moves.
	InitialRiskPerUnit float64

	// Exit levels
	CurrentStop      float64 // may move to breakeven after TP1
	StopAtBE         bool
	TPsHit           int     // take-profit progress counter
	RealizedR        float64 // from all closes so far, in R
	RealizedRFromTP1 float64 // the TP1 partial close's contribution
	RemainingPct     float64 // unclosed fraction of the position
	EntryOccurred    bool    // monotonic: false -> true only

	// Excursion extremes, updated every candle after entry
	MAEPrice float64
	MFEPrice float64
	MAER     float64
	MFER     float64

	// Timing
	TriggeredAt int64 // Unix ms, 0 until set
	EnteredAt   int64
	ClosedAt    int64

	// LastCandleTS is the replay checkpoint (candle open time, Unix ms).
	LastCandleTS int64
	EventSeq     int // last event sequence number issued

	UpdatedAt int64
}

// NewMonitorState builds the initial ARMED state for a snapshot.
func NewMonitorState(s *Snapshot, now int64) *MonitorState {
	return &MonitorState{
		SnapshotID:    s.SnapshotID,
		Status:        StatusArmed,
		DirectionSign: s.Bias.Sign(),
		CurrentStop:   s.StopLoss,
		RemainingPct:  1.0,
		UpdatedAt:     now,
	}
}
