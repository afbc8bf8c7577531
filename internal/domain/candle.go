package domain

// Candle is a single closed 1-minute OHLCV bar.
// The feed never delivers the currently-forming bar.
type Candle struct {
	Symbol   string
	OpenTime int64 // bar open, Unix milliseconds
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Timeframe constants. The simulation core consumes 1-minute bars only;
// the timeframe on a Snapshot records what the generator analyzed.
const (
	TimeframeM1  = "1m"
	TimeframeM15 = "15m"
	TimeframeH1  = "1h"
	TimeframeH4  = "4h"
	TimeframeD1  = "1d"
)
