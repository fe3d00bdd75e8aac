// Package metrics exposes ZenFS's operational counters and histograms via
// Prometheus, plus a small HTTP health/readiness registry shared by every
// component that runs inside cmd/zenfsd.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zenfs_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	DevicesDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_devices_discovered_total",
			Help: "Total number of block devices discovered by the Reconciler",
		},
	)

	GatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenfs_gates_total",
			Help: "Current number of gates by state (mounted, stale, pending)",
		},
		[]string{"state"},
	)

	StaleGatesRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_stale_gates_removed_total",
			Help: "Total number of stale gates removed during reconciliation",
		},
	)

	// Indexer metrics
	ShadowEntriesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenfs_shadow_entries_written_total",
			Help: "Total number of shadow entries written, by database (global, local)",
		},
		[]string{"database"},
	)

	ShadowCollisionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_shadow_collisions_total",
			Help: "Total number of shadow entry name collisions resolved via suffixing",
		},
	)

	ShadowEntriesRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenfs_shadow_entries_removed_total",
			Help: "Total number of shadow entries removed, by database (global, local)",
		},
		[]string{"database"},
	)

	ProjectionLinksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_projection_links_created_total",
			Help: "Total number of projection links created in the user namespace",
		},
	)

	ProjectionLinksRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_projection_links_removed_total",
			Help: "Total number of projection links removed from the user namespace",
		},
	)

	IndexerEventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zenfs_indexer_event_duration_seconds",
			Help:    "Time taken to process a single filesystem event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // created, modified, moved, deleted
	)

	InitialScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zenfs_initial_scan_duration_seconds",
			Help:    "Time taken for a watch root's initial synchronous scan",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"root"},
	)

	// Conductor metrics
	ConductorRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zenfs_conductor_run_duration_seconds",
			Help:    "Time taken for a Conductor hot-swap rebuild",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	ConductorLastRunTracks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenfs_conductor_last_run_tracks",
			Help: "Number of tracks planted into view trees during the last Conductor run",
		},
	)

	ConductorTagReadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenfs_conductor_tag_read_failures_total",
			Help: "Total number of source files skipped due to a tag read failure",
		},
	)

	ConductorHotSwapRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenfs_conductor_hot_swap_rollbacks_total",
			Help: "Total number of view categories rolled back after a failed hot-swap rename",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(DevicesDiscoveredTotal)
	prometheus.MustRegister(GatesTotal)
	prometheus.MustRegister(StaleGatesRemovedTotal)

	prometheus.MustRegister(ShadowEntriesWrittenTotal)
	prometheus.MustRegister(ShadowCollisionsTotal)
	prometheus.MustRegister(ShadowEntriesRemovedTotal)
	prometheus.MustRegister(ProjectionLinksCreatedTotal)
	prometheus.MustRegister(ProjectionLinksRemovedTotal)
	prometheus.MustRegister(IndexerEventDuration)
	prometheus.MustRegister(InitialScanDuration)

	prometheus.MustRegister(ConductorRunDuration)
	prometheus.MustRegister(ConductorLastRunTracks)
	prometheus.MustRegister(ConductorTagReadFailuresTotal)
	prometheus.MustRegister(ConductorHotSwapRollbacksTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
