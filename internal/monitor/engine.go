package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"trade-forwardtest/internal/domain"
	"trade-forwardtest/internal/feed"
	"trade-forwardtest/internal/lock"
	"trade-forwardtest/internal/observability"
	"trade-forwardtest/internal/storage"
)

const candleIntervalMs = 60_000

// OutcomeRecorder receives scenarios that reached a terminal state after
// entering a position.
type OutcomeRecorder interface {
	RecordTerminal(ctx context.Context, snap *domain.Snapshot, st *domain.MonitorState, epoch int64) error
}

// Portfolio is the engine's view of the admission controller.
type Portfolio interface {
	RunFillPass(ctx context.Context) error
	OnScenarioClosedWithoutEntry(ctx context.Context, snapshotID string, status domain.MonitorStatus) error
}

// EngineConfig holds tick-engine parameters.
type EngineConfig struct {
	// LockName keys the shared run-lock.
	LockName string
	// LockTTL bounds how long a crashed holder can wedge the schedule.
	// Must be shorter than the tick interval.
	LockTTL time.Duration
	// BacklogLimit caps candles fetched per symbol per tick. A long outage
	// drains over several ticks instead of one unbounded replay.
	BacklogLimit int
	// AnomalyThreshold is the per-tick anomaly count that raises an alert.
	AnomalyThreshold int
}

// DefaultEngineConfig returns the engine parameters used when none are
// configured.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LockName:         "forwardtest:monitor:tick",
		LockTTL:          50 * time.Second,
		BacklogLimit:     1440,
		AnomalyThreshold: 10,
	}
}

// Engine is the scheduler-invoked monitor tick. Each tick takes the shared
// run-lock, replays the candle backlog through every active scenario's
// state machine, records terminal outcomes, and runs one portfolio fill
// pass. A tick that cannot take the lock is abandoned, never queued.
type Engine struct {
	cfg       EngineConfig
	machine   *Machine
	feed      feed.Feed
	snapshots storage.SnapshotStore
	states    storage.MonitorStateStore
	events    storage.EventStore
	locker    lock.Locker
	recorder  OutcomeRecorder
	portfolio Portfolio
	anomalies *AnomalyTracker
	metrics   *observability.Metrics
	now       func() time.Time
	epoch     int64
}

// EngineOptions wires an Engine's dependencies. Metrics and Clock are
// optional.
type EngineOptions struct {
	Config        EngineConfig
	Machine       *Machine
	Feed          feed.Feed
	SnapshotStore storage.SnapshotStore
	StateStore    storage.MonitorStateStore
	EventStore    storage.EventStore
	Locker        lock.Locker
	Recorder      OutcomeRecorder
	Portfolio     Portfolio
	Metrics       *observability.Metrics
	Clock         func() time.Time
}

// NewEngine creates a tick engine.
func NewEngine(opts EngineOptions) *Engine {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:       opts.Config,
		machine:   opts.Machine,
		feed:      opts.Feed,
		snapshots: opts.SnapshotStore,
		states:    opts.StateStore,
		events:    opts.EventStore,
		locker:    opts.Locker,
		recorder:  opts.Recorder,
		portfolio: opts.Portfolio,
		anomalies: NewAnomalyTracker(opts.Config.AnomalyThreshold, opts.Metrics),
		metrics:   opts.Metrics,
		now:       now,
	}
}

// Epoch returns the number of ticks that have run.
func (e *Engine) Epoch() int64 { return e.epoch }

// Tick runs one engine invocation. Failure to acquire the run-lock is not
// an error: the tick is skipped and the next scheduled one catches up via
// the checkpoints. Any other failure fails the tick closed.
func (e *Engine) Tick(ctx context.Context) error {
	token, err := e.locker.Acquire(ctx, e.cfg.LockName, e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			if e.metrics != nil {
				e.metrics.TicksSkipped.Inc()
			}
			log.Debug().Msg("tick skipped, run-lock held elsewhere")
			return nil
		}
		return fmt.Errorf("acquire run-lock: %w", err)
	}
	defer func() {
		if err := e.locker.Release(context.WithoutCancel(ctx), e.cfg.LockName, token); err != nil {
			log.Error().Err(err).Msg("run-lock release failed")
		}
	}()

	e.epoch++
	start := e.now()
	defer func() {
		if e.metrics != nil {
			e.metrics.TickDuration.Observe(e.now().Sub(start).Seconds())
		}
	}()

	if err := e.replayAll(ctx); err != nil {
		return err
	}
	if err := e.portfolio.RunFillPass(ctx); err != nil {
		return fmt.Errorf("fill pass: %w", err)
	}

	if n := e.anomalies.Roll(); n > 0 {
		log.Warn().Int("anomalies", n).Int64("epoch", e.epoch).Msg("tick finished with anomalies")
	}
	return nil
}

// replayAll drives every active scenario through its symbol's candle
// backlog. A backlog fetch failure quarantines that symbol for the tick;
// the others proceed.
func (e *Engine) replayAll(ctx context.Context) error {
	active, err := e.states.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("load active states: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	ids := make([]string, 0, len(active))
	for _, st := range active {
		ids = append(ids, st.SnapshotID)
	}
	snaps, err := e.snapshots.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	bySymbol := make(map[string][]*domain.MonitorState)
	for _, st := range active {
		snap, ok := snaps[st.SnapshotID]
		if !ok {
			e.anomalies.Observe("orphan_state", "", e.epoch)
			continue
		}
		bySymbol[snap.Symbol] = append(bySymbol[snap.Symbol], st)
	}

	until := e.now().UnixMilli()
	for symbol, states := range bySymbol {
		if err := e.replaySymbol(ctx, symbol, states, snaps, until); err != nil {
			if e.metrics != nil {
				e.metrics.FeedErrors.WithLabelValues(symbol).Inc()
			}
			log.Error().Err(err).Str("symbol", symbol).Msg("symbol replay failed, quarantined for tick")
		}
	}
	return nil
}

func (e *Engine) replaySymbol(ctx context.Context, symbol string, states []*domain.MonitorState, snaps map[string]*domain.Snapshot, until int64) error {
	// Fetch from the oldest checkpoint; per-state checkpoint guards in the
	// machine skip candles a fresher scenario already consumed.
	after := states[0].LastCandleTS
	for _, st := range states[1:] {
		if st.LastCandleTS < after {
			after = st.LastCandleTS
		}
	}

	candles, err := e.feed.Candles(ctx, symbol, after, until, e.cfg.BacklogLimit)
	if err != nil {
		return fmt.Errorf("fetch backlog: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	prev := int64(0)
	for _, c := range candles {
		if prev != 0 {
			if c.OpenTime <= prev {
				e.anomalies.Observe("out_of_order_candle", symbol, e.epoch)
				continue
			}
			if c.OpenTime-prev > candleIntervalMs {
				e.anomalies.Observe("candle_gap", symbol, e.epoch)
			}
		}
		prev = c.OpenTime
		if e.metrics != nil {
			e.metrics.CandlesReplayed.Inc()
		}

		for _, st := range states {
			if st.Status.IsTerminal() {
				continue
			}
			e.applyAndPersist(ctx, snaps[st.SnapshotID], st, c)
		}
	}
	return nil
}

// applyAndPersist advances one state by one candle and persists the result.
// Events go first so a crash between the writes re-applies the candle and
// hits the (snapshot_id, seq) uniqueness instead of losing history.
func (e *Engine) applyAndPersist(ctx context.Context, snap *domain.Snapshot, st *domain.MonitorState, c *domain.Candle) {
	wasTerminal := st.Status.IsTerminal()
	events := e.machine.Apply(snap, st, c)
	st.UpdatedAt = e.now().UnixMilli()

	if len(events) > 0 {
		if err := e.events.Append(ctx, events); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			log.Error().Err(err).Str("snapshot_id", st.SnapshotID).Msg("event append failed")
			return
		}
		if e.metrics != nil {
			for _, ev := range events {
				e.metrics.Transitions.WithLabelValues(string(ev.Kind)).Inc()
			}
		}
	}

	if err := e.states.Update(ctx, st); err != nil {
		log.Error().Err(err).Str("snapshot_id", st.SnapshotID).Msg("state update failed")
		return
	}

	if !wasTerminal && st.Status.IsTerminal() {
		e.onTerminal(ctx, snap, st)
	}
}

func (e *Engine) onTerminal(ctx context.Context, snap *domain.Snapshot, st *domain.MonitorState) {
	log.Info().
		Str("snapshot_id", st.SnapshotID).
		Str("symbol", snap.Symbol).
		Str("status", string(st.Status)).
		Float64("realized_r", st.RealizedR).
		Msg("scenario terminal")

	if st.EntryOccurred {
		if err := e.recorder.RecordTerminal(ctx, snap, st, e.epoch); err != nil {
			log.Error().Err(err).Str("snapshot_id", st.SnapshotID).Msg("outcome recording failed")
		}
		return
	}
	if err := e.portfolio.OnScenarioClosedWithoutEntry(ctx, st.SnapshotID, st.Status); err != nil {
		log.Error().Err(err).Str("snapshot_id", st.SnapshotID).Msg("portfolio close-out failed")
	}
}
