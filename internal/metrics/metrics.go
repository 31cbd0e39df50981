// Package metrics provides Prometheus instrumentation for the simulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FillsTotal counts simulated fills, partitioned by side and order type.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysim_fills_total",
		Help: "Total number of simulated fills",
	}, []string{"side", "type"})

	// FilledVolume tracks cumulative filled size in shares per market.
	FilledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysim_filled_volume_total",
		Help: "Cumulative filled size in shares",
	}, []string{"market_id", "side"})

	// RejectionsTotal counts rejected submissions and cancels by reason.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysim_rejections_total",
		Help: "Rejected requests by reason",
	}, []string{"reason"})

	// RestingOrders tracks resting LIMIT orders across all tokens.
	RestingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polysim_resting_orders",
		Help: "Number of resting limit orders",
	})

	// SnapshotsTotal counts snapshots processed by the market pipelines.
	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polysim_snapshots_total",
		Help: "Order book snapshots processed",
	})

	// SnapshotsDropped counts stale snapshots replaced before processing.
	SnapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polysim_snapshots_dropped_total",
		Help: "Stale order book snapshots dropped under backpressure",
	})

	// CrossedBooks counts snapshots with best_bid >= best_ask.
	CrossedBooks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polysim_crossed_books_total",
		Help: "Crossed order book snapshots received",
	})

	// DecisionsTotal counts logged decisions by state.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polysim_decisions_total",
		Help: "Decisions logged, resolved or excluded",
	}, []string{"state"})

	// Equity is the account equity after the last update.
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polysim_account_equity",
		Help: "Paper account equity",
	})

	// Balance is the account cash balance after the last update.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polysim_account_balance",
		Help: "Paper account cash balance",
	})

	// TickDuration tracks per-snapshot processing time in a market pipeline.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polysim_tick_duration_seconds",
		Help:    "Snapshot processing duration in seconds",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
