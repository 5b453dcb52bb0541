// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scannerItemsScannedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_items_scanned_total",
			Help: "Total number of external items fetched and scanned.",
		},
	)

	scannerMatchesPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_matches_persisted_total",
			Help: "Total number of newly persisted match records.",
		},
	)

	scannerAPIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_api_errors_total",
			Help: "Total external API call failures, labeled by error kind.",
		},
		[]string{"kind"},
	)

	scannerLimiterRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_limiter_rejections_total",
			Help: "Total proactive rate limiter rejections.",
		},
	)

	scannerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_tasks_total",
			Help: "Total scan task attempts, labeled by terminal status.",
		},
		[]string{"status"},
	)

	scannerSkippedSchedulesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_skipped_schedules_total",
			Help: "Ticks where a target was skipped because a scan was still in flight.",
		},
	)

	scannerActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanner_active_workers",
			Help: "Number of workers currently executing a scan task.",
		},
	)

	scannerScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Histogram of scan task attempt durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItemsScanned adds n fetched items to the scan counter.
func ObserveItemsScanned(n int) {
	if n > 0 {
		scannerItemsScannedTotal.Add(float64(n))
	}
}

// ObserveMatchPersisted increments the persisted match counter.
func ObserveMatchPersisted() {
	scannerMatchesPersistedTotal.Inc()
}

// ObserveAPIError increments the API error counter for the given kind.
func ObserveAPIError(kind string) {
	scannerAPIErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveLimiterRejection increments the proactive limiter rejection counter.
func ObserveLimiterRejection() {
	scannerLimiterRejectionsTotal.Inc()
}

// ObserveTask increments the task counter for the given terminal status.
func ObserveTask(status string) {
	scannerTasksTotal.WithLabelValues(status).Inc()
}

// ObserveSkippedSchedule counts a target skipped due to an in-flight scan.
func ObserveSkippedSchedule() {
	scannerSkippedSchedulesTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scannerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scannerActiveWorkers.Dec()
}

// ObserveScanDuration records the duration of a scan task attempt.
func ObserveScanDuration(d time.Duration) {
	scannerScanDurationSeconds.Observe(d.Seconds())
}
