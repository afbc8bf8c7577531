package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"trade-forwardtest/internal/domain"
)

// BreakerFeed wraps a Feed with one circuit breaker per symbol, so a
// symbol whose backing source is failing trips its own breaker without
// affecting the backlog fetch for other symbols.
type BreakerFeed struct {
	inner Feed

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerFeed wraps inner with per-symbol circuit breakers.
func NewBreakerFeed(inner Feed) *BreakerFeed {
	return &BreakerFeed{
		inner:    inner,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Candles implements Feed.
func (f *BreakerFeed) Candles(ctx context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error) {
	result, err := f.breaker(symbol).Execute(func() (interface{}, error) {
		return f.inner.Candles(ctx, symbol, after, until, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*domain.Candle), nil
}

func (f *BreakerFeed) breaker(symbol string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, exists := f.breakers[symbol]
	if !exists {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "candle-feed-" + symbol,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("candle feed breaker state change")
			},
		})
		f.breakers[symbol] = cb
	}
	return cb
}

var _ Feed = (*BreakerFeed)(nil)
