// Package feed defines the candle-feed boundary: closed, ascending,
// gap-free 1-minute OHLCV bars per symbol.
package feed

import (
	"context"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// Feed serves the candle backlog for replay. Candles are returned with
// open_time in (after, until], ascending, capped at limit. The
// currently-forming bar is never included.
type Feed interface {
	Candles(ctx context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error)
}

// StoreFeed serves candles from the candle store, which the stream
// ingester keeps current.
type StoreFeed struct {
	store storage.CandleStore
}

// NewStoreFeed creates a feed over the candle store.
func NewStoreFeed(store storage.CandleStore) *StoreFeed {
	return &StoreFeed{store: store}
}

// Candles implements Feed.
func (f *StoreFeed) Candles(ctx context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error) {
	return f.store.GetRange(ctx, symbol, after, until, limit)
}

var _ Feed = (*StoreFeed)(nil)
