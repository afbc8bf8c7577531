package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/storage"
)

// StreamConfig configures the kline stream client.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
	}
}

// klineMessage is the combined-stream kline payload shape.
type klineMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// Stream subscribes to 1-minute kline streams and writes each closed bar
// into the candle store. The forming bar is discarded: the simulation
// core only ever sees closed candles.
type Stream struct {
	endpoint string
	symbols  []string
	store    storage.CandleStore
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
}

// NewStream creates a stream client for the given symbols.
func NewStream(endpoint string, symbols []string, store storage.CandleStore, config *StreamConfig) *Stream {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	return &Stream{
		endpoint: endpoint,
		symbols:  symbols,
		store:    store,
		config:   cfg,
	}
}

// Run connects and consumes klines until ctx is cancelled, reconnecting
// with exponential backoff on failure.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.config.ReconnectDelay

	for {
		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("kline stream connect failed")
		} else {
			delay = s.config.ReconnectDelay
			if err := s.consume(ctx); err != nil {
				log.Warn().Err(err).Msg("kline stream dropped")
			}
		}

		select {
		case <-ctx.Done():
			s.close()
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@kline_1m"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", s.endpoint, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

func (s *Stream) consume(ctx context.Context) error {
	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()
	defer s.close()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	msgs := make(chan []byte)
	errs := make(chan error, 1)

	// done releases a reader parked on the unbuffered msgs send when
	// consume exits through ctx cancellation or a ping failure; closing
	// the connection alone only unblocks a reader inside ReadMessage.
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-pingTicker.C:
			s.connMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			s.connMu.Unlock()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case data := <-msgs:
			if err := s.handleMessage(ctx, data); err != nil {
				log.Warn().Err(err).Msg("kline message dropped")
			}
		}
	}
}

func (s *Stream) handleMessage(ctx context.Context, data []byte) error {
	var msg klineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode kline: %w", err)
	}
	if !msg.Data.Kline.Closed {
		return nil
	}

	candle, err := candleFromKline(&msg)
	if err != nil {
		return err
	}
	return s.store.InsertBulk(ctx, []*domain.Candle{candle})
}

func candleFromKline(msg *klineMessage) (*domain.Candle, error) {
	k := msg.Data.Kline
	parse := func(field, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parse kline %s %q: %w", field, v, err)
		}
		return f, nil
	}

	open, err := parse("open", k.Open)
	if err != nil {
		return nil, err
	}
	high, err := parse("high", k.High)
	if err != nil {
		return nil, err
	}
	low, err := parse("low", k.Low)
	if err != nil {
		return nil, err
	}
	closePrice, err := parse("close", k.Close)
	if err != nil {
		return nil, err
	}
	volume, err := parse("volume", k.Volume)
	if err != nil {
		return nil, err
	}

	return &domain.Candle{
		Symbol:   msg.Data.Symbol,
		OpenTime: k.OpenTime,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}, nil
}

func (s *Stream) close() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
