// Package fillsim implements the pure fill simulator: touch detection,
// slippage, R-multiples and excursion tracking over single candles.
// No I/O, no shared state.
package fillsim

import (
	"trade-forwardtest/internal/domain"
)

// Params holds execution-model parameters. Percentages are fractions
// (0.001 = 0.1%).
type Params struct {
	SpreadBufferPct  float64 // widens the entry touch band
	EntrySlippagePct float64 // applied against the trader on entry fills
	ExitSlippagePct  float64 // applied against the trader on stop exits
}

// DefaultParams returns the execution parameters used when none are
// configured.
func DefaultParams() Params {
	return Params{
		SpreadBufferPct:  0.0005,
		EntrySlippagePct: 0.0005,
		ExitSlippagePct:  0.001,
	}
}

// Simulator evaluates fills under the touch model: an order fills the
// instant price touches its level, ignoring partial/probabilistic fill
// dynamics.
type Simulator struct {
	params Params
}

// New creates a simulator with the given parameters.
func New(params Params) *Simulator {
	return &Simulator{params: params}
}

// EntryTouched reports whether an entry level is touched by the candle.
// A long entry touches when the candle low reaches the level plus the
// spread buffer; a short entry is mirrored on the high.
func (s *Simulator) EntryTouched(bias domain.Bias, level float64, c *domain.Candle) bool {
	if bias == domain.BiasShort {
		return c.High >= level*(1-s.params.SpreadBufferPct)
	}
	return c.Low <= level*(1+s.params.SpreadBufferPct)
}

// EntryFillPrice returns the fill price for a touched entry level with
// entry slippage applied against the trader: a long fills higher than
// requested, a short fills lower.
func (s *Simulator) EntryFillPrice(bias domain.Bias, level float64) float64 {
	if bias == domain.BiasShort {
		return level * (1 - s.params.EntrySlippagePct)
	}
	return level * (1 + s.params.EntrySlippagePct)
}

// StopTouched reports whether the stop level is touched by the candle.
// Long: low at or below the stop. Short: high at or above.
func (s *Simulator) StopTouched(bias domain.Bias, stop float64, c *domain.Candle) bool {
	if bias == domain.BiasShort {
		return c.High >= stop
	}
	return c.Low <= stop
}

// StopExitPrice returns the stop exit price with exit slippage applied
// against the trader.
func (s *Simulator) StopExitPrice(bias domain.Bias, stop float64) float64 {
	if bias == domain.BiasShort {
		return stop * (1 + s.params.ExitSlippagePct)
	}
	return stop * (1 - s.params.ExitSlippagePct)
}

// TargetTouched reports whether a take-profit level is touched.
// Long: high at or above the level. Short: low at or below.
func (s *Simulator) TargetTouched(bias domain.Bias, tp float64, c *domain.Candle) bool {
	if bias == domain.BiasShort {
		return c.Low <= tp
	}
	return c.High >= tp
}

// TargetExitPrice returns the take-profit exit price. Take-profit exits
// are not improved by slippage.
func (s *Simulator) TargetExitPrice(_ domain.Bias, tp float64) float64 {
	return tp
}

// RMultiple computes direction-signed P&L normalized by the initial
// per-unit risk. riskPerUnit is locked at entry and never recomputed,
// so R accounting cannot drift after the stop moves.
func RMultiple(dirSign int, entry, exit, riskPerUnit float64) float64 {
	if riskPerUnit <= 0 {
		return 0
	}
	return float64(dirSign) * (exit - entry) / riskPerUnit
}

// WeightedAvgEntry computes the size-percent-weighted mean fill price
// over the filled-order ledger and the cumulative fill percent.
func WeightedAvgEntry(fills []domain.FilledOrder) (avgPrice, totalPct float64) {
	var weighted float64
	for _, f := range fills {
		weighted += f.FillPrice * f.SizePct
		totalPct += f.SizePct
	}
	if totalPct == 0 {
		return 0, 0
	}
	return weighted / totalPct, totalPct
}

// UpdateExcursions advances the adverse/favorable extreme prices with a
// new candle. For a long, adverse tracks the running minimum of lows and
// favorable the running maximum of highs; short is mirrored. Zero-valued
// extremes are treated as unset and seeded from the candle.
func UpdateExcursions(bias domain.Bias, c *domain.Candle, maePrice, mfePrice float64) (newMAE, newMFE float64) {
	if bias == domain.BiasShort {
		newMAE = maxOrSeed(maePrice, c.High)
		newMFE = minOrSeed(mfePrice, c.Low)
		return newMAE, newMFE
	}
	newMAE = minOrSeed(maePrice, c.Low)
	newMFE = maxOrSeed(mfePrice, c.High)
	return newMAE, newMFE
}

func minOrSeed(cur, v float64) float64 {
	if cur == 0 || v < cur {
		return v
	}
	return cur
}

func maxOrSeed(cur, v float64) float64 {
	if cur == 0 || v > cur {
		return v
	}
	return cur
}
