// Package metrics exposes Prometheus collectors for the reelwatch pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal    *prometheus.CounterVec
	reelsObservedTotal    prometheus.Counter
	snapshotsTotal        *prometheus.CounterVec
	reelsPrunedTotal      *prometheus.CounterVec
	deliveriesTotal       *prometheus.CounterVec
	monitorRunsTotal      *prometheus.CounterVec
	rateLimitWaitSeconds  prometheus.Histogram
	trackedReelsPerRun    prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelwatch_fetch_requests_total",
				Help: "Total source fetch calls, labeled by outcome.",
			},
			[]string{"status"},
		)

		reelsObservedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reelwatch_reels_observed_total",
				Help: "Total reel observations upserted into the store.",
			},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelwatch_snapshots_total",
				Help: "Snapshot admission decisions, labeled recorded or skipped.",
			},
			[]string{"decision"},
		)

		reelsPrunedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelwatch_reels_pruned_total",
				Help: "Reels removed by lifecycle rules, labeled by reason.",
			},
			[]string{"reason"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelwatch_deliveries_total",
				Help: "Delivery gate outcomes, labeled sent, skipped or failed.",
			},
			[]string{"status"},
		)

		monitorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reelwatch_monitor_runs_total",
				Help: "Completed monitor runs, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reelwatch_rate_limit_wait_seconds",
				Help:    "Histogram of request budget wait durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
			},
		)

		trackedReelsPerRun = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reelwatch_tracked_reels",
				Help: "Reels observed in the most recent monitor run.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for the given outcome.
func ObserveFetch(status string) {
	fetchRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveReel counts one reel observation.
func ObserveReel() {
	reelsObservedTotal.Inc()
}

// ObserveSnapshot records a snapshot admission decision.
func ObserveSnapshot(recorded bool) {
	decision := "skipped"
	if recorded {
		decision = "recorded"
	}
	snapshotsTotal.WithLabelValues(decision).Inc()
}

// ObservePrune counts a pruned reel with its triggering rule.
func ObservePrune(reason string) {
	reelsPrunedTotal.WithLabelValues(reason).Inc()
}

// ObserveDelivery records a delivery gate outcome.
func ObserveDelivery(status string) {
	deliveriesTotal.WithLabelValues(status).Inc()
}

// ObserveMonitorRun records a completed monitor run.
func ObserveMonitorRun(status string) {
	monitorRunsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitWait records how long a fetch waited on the budget.
func ObserveRateLimitWait(d time.Duration) {
	rateLimitWaitSeconds.Observe(d.Seconds())
}

// SetTrackedReels publishes the reel count of the latest run.
func SetTrackedReels(n int) {
	trackedReelsPerRun.Set(float64(n))
}
