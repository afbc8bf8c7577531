// Package portfolio implements the admission controller over a bounded
// candidate pool and a bounded set of open positions under a global risk
// budget.
package portfolio

import (
	"context"
	"time"

	"trade-forwardtest/internal/observability"
	"trade-forwardtest/internal/storage"
)

// Config holds portfolio limits and scoring parameters.
type Config struct {
	// Candidate pool
	PoolSize         int
	CandidateTTL     time.Duration
	MinScore         float64
	MaxPerSymbol     int // pool candidates per symbol
	MaxPerSymbolSide int // pool candidates per (symbol, side)
	Weights          ScoreWeights

	// Positions
	MaxPositions        int
	MaxPositionsPerSym  int
	MaxPositionsPerSide int // per (symbol, side)
	MaxTotalRiskR       float64
	RiskPerPositionR    float64 // risk each position carries, in R
	RiskPctPerPosition  float64 // fraction of equity risked per position
	FillRetryThrottle   time.Duration
	InitialEquity       float64
}

// DefaultConfig returns the portfolio parameters used when none are
// configured.
func DefaultConfig() Config {
	return Config{
		PoolSize:            12,
		CandidateTTL:        48 * time.Hour,
		MinScore:            0.35,
		MaxPerSymbol:        2,
		MaxPerSymbolSide:    1,
		Weights:             DefaultScoreWeights(),
		MaxPositions:        5,
		MaxPositionsPerSym:  1,
		MaxPositionsPerSide: 1,
		MaxTotalRiskR:       5.0,
		RiskPerPositionR:    1.0,
		RiskPctPerPosition:  0.01,
		FillRetryThrottle:   5 * time.Minute,
		InitialEquity:       10_000,
	}
}

// Manager is the portfolio admission controller.
type Manager struct {
	cfg        Config
	candidates storage.CandidateStore
	positions  storage.PositionStore
	equity     storage.EquityStore
	states     storage.MonitorStateStore
	metrics    *observability.Metrics
	now        func() time.Time
}

// Options wires a Manager's dependencies. Metrics and Clock are optional.
type Options struct {
	Config         Config
	CandidateStore storage.CandidateStore
	PositionStore  storage.PositionStore
	EquityStore    storage.EquityStore
	StateStore     storage.MonitorStateStore
	Metrics        *observability.Metrics
	Clock          func() time.Time
}

// NewManager creates a portfolio manager.
func NewManager(opts Options) *Manager {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:        opts.Config,
		candidates: opts.CandidateStore,
		positions:  opts.PositionStore,
		equity:     opts.EquityStore,
		states:     opts.StateStore,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// OpenRiskR returns the aggregate risk of open positions, in R.
func (m *Manager) OpenRiskR(ctx context.Context) (float64, error) {
	open, err := m.positions.GetOpen(ctx)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, p := range open {
		sum += p.RiskR
	}
	return sum, nil
}

func (m *Manager) nowMs() int64 {
	return m.now().UnixMilli()
}
