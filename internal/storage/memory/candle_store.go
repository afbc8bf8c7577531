package memory

import (
	"context"
	"sort"
	"sync"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

type candleKey struct {
	symbol   string
	openTime int64
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]*domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]*domain.Candle),
	}
}

// InsertBulk adds candles. Duplicate (symbol, open_time) pairs are ignored.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey{c.Symbol, c.OpenTime}
		if _, exists := s.data[key]; exists {
			continue
		}
		copy := *c
		s.data[key] = &copy
	}
	return nil
}

// GetRange retrieves candles for a symbol with open_time in (after, until],
// ordered by open_time ASC, capped at limit.
func (s *CandleStore) GetRange(_ context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for key, c := range s.data {
		if key.symbol == symbol && c.OpenTime > after && c.OpenTime <= until {
			copy := *c
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenTime < result[j].OpenTime
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
