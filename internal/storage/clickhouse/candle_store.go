package clickhouse

import (
	"context"
	"fmt"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// The candles table is a ReplacingMergeTree keyed on (symbol, open_time):
// redelivered closed bars from a feed reconnect collapse instead of
// duplicating, which is exactly the InsertBulk contract.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds candles. Duplicate (symbol, open_time) pairs are ignored.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			symbol, open_time, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Symbol, uint64(c.OpenTime),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles for a symbol with open_time in (after, until],
// ordered by open_time ASC, capped at limit. FINAL collapses any
// not-yet-merged redeliveries.
func (s *CandleStore) GetRange(ctx context.Context, symbol string, after, until int64, limit int) ([]*domain.Candle, error) {
	query := `
		SELECT symbol, open_time, open, high, low, close, volume
		FROM candles FINAL
		WHERE symbol = ? AND open_time > ? AND open_time <= ?
		ORDER BY open_time ASC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, symbol, uint64(after), uint64(until), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	var result []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		var openTime uint64
		if err := rows.Scan(&c.Symbol, &openTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.OpenTime = int64(openTime)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
