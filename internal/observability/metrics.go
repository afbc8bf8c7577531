// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the simulation core.
type Metrics struct {
	// Tick engine metrics
	TickDuration    prometheus.Histogram
	TicksSkipped    prometheus.Counter
	CandlesReplayed prometheus.Counter
	Transitions     *prometheus.CounterVec
	FeedErrors      *prometheus.CounterVec
	Anomalies       prometheus.Counter

	// Portfolio metrics
	OpenPositions      prometheus.Gauge
	OpenRiskR          prometheus.Gauge
	Equity             prometheus.Gauge
	CandidatesAdmitted prometheus.Counter
	CandidatesRejected *prometheus.CounterVec
	PositionsFilled    prometheus.Counter

	// Outcome metrics
	OutcomesRecorded *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "forwardtest"
	}

	return &Metrics{
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Duration of monitor tick engine invocations",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_skipped_total",
			Help:      "Ticks abandoned because the run-lock was held",
		}),
		CandlesReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "candles_replayed_total",
			Help:      "Candles replayed through scenario state machines",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transitions_total",
			Help:      "State machine events by kind",
		}, []string{"kind"}),
		FeedErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "feed_errors_total",
			Help:      "Candle backlog fetch failures by symbol",
		}, []string{"symbol"}),
		Anomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "anomalies_total",
			Help:      "Structural anomalies observed during replay",
		}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		OpenRiskR: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "open_risk_r",
			Help:      "Aggregate risk of open positions in R",
		}),
		Equity: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "equity",
			Help:      "Current ledger equity",
		}),
		CandidatesAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "candidates_admitted_total",
			Help:      "Candidates admitted into the pool",
		}),
		CandidatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "candidates_rejected_total",
			Help:      "Candidates rejected by reason",
		}, []string{"reason"}),
		PositionsFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "positions_filled_total",
			Help:      "Candidates promoted into open positions",
		}),
		OutcomesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcome",
			Name:      "recorded_total",
			Help:      "Terminal outcomes recorded by class",
		}, []string{"class"}),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
