package monitor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"trade-forwardtest/internal/observability"
)

// AnomalyTracker counts structural problems seen during replay, such as
// candle gaps or out-of-order bars. Each observation is logged at warn;
// crossing the per-window threshold raises a rate-limited error so a burst
// of bad feed data surfaces once instead of flooding the log.
type AnomalyTracker struct {
	mu        sync.Mutex
	count     int
	threshold int
	limiter   *rate.Limiter
	metrics   *observability.Metrics
}

// NewAnomalyTracker creates a tracker that alerts when more than threshold
// anomalies accumulate in one window. Metrics may be nil.
func NewAnomalyTracker(threshold int, metrics *observability.Metrics) *AnomalyTracker {
	return &AnomalyTracker{
		threshold: threshold,
		limiter:   rate.NewLimiter(rate.Every(time.Minute), 1),
		metrics:   metrics,
	}
}

// Observe records one anomaly.
func (a *AnomalyTracker) Observe(kind, symbol string, epoch int64) {
	a.mu.Lock()
	a.count++
	count := a.count
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.Anomalies.Inc()
	}
	log.Warn().
		Str("kind", kind).
		Str("symbol", symbol).
		Int64("epoch", epoch).
		Msg("replay anomaly")

	if count > a.threshold && a.limiter.Allow() {
		log.Error().
			Int("count", count).
			Int("threshold", a.threshold).
			Int64("epoch", epoch).
			Msg("anomaly threshold exceeded this window")
	}
}

// Roll closes the current window and returns its anomaly count.
func (a *AnomalyTracker) Roll() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.count
	a.count = 0
	return n
}
