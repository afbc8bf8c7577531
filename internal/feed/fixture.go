package feed

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
)

// FixtureFeed serves a preloaded candle set. Tests and cmd/simulate.
type FixtureFeed struct {
	mu      sync.RWMutex
	candles map[string][]*domain.Candle // per symbol, ascending
	errs    map[string]error
}

// NewFixtureFeed creates an empty fixture feed.
func NewFixtureFeed() *FixtureFeed {
	return &FixtureFeed{
		candles: make(map[string][]*domain.Candle),
		errs:    make(map[string]error),
	}
}

// Add appends candles for their symbols, keeping each series ascending.
func (f *FixtureFeed) Add(candles ...*domain.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range candles {
		f.candles[c.Symbol] = append(f.candles[c.Symbol], c)
	}
	for symbol := range f.candles {
		series := f.candles[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].OpenTime < series[j].OpenTime })
	}
}

// FailSymbol makes Candles return err for the symbol. Tests the
// per-symbol failure isolation of the tick engine.
func (f *FixtureFeed) FailSymbol(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[symbol] = err
}

// Candles implements Feed.
func (f *FixtureFeed) Candles(_ context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.errs[symbol]; err != nil {
		return nil, err
	}

	var result []*domain.Candle
	for _, c := range f.candles[symbol] {
		if c.OpenTime > after && c.OpenTime <= until {
			copy := *c
			result = append(result, &copy)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

var _ Feed = (*FixtureFeed)(nil)
