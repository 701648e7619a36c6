// Package metrics provides Prometheus metrics for the acquirer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for an acquisition run.
type Metrics struct {
	// Discovery metrics
	ScenesDiscovered *prometheus.CounterVec
	UnitsGrouped     *prometheus.CounterVec

	// Quality gate metrics
	UnitsApproved *prometheus.CounterVec
	UnitsFiltered *prometheus.CounterVec

	// Job metrics
	JobsSubmitted *prometheus.CounterVec
	JobsSkipped   *prometheus.CounterVec
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsPending   prometheus.Gauge
	PollPasses    prometheus.Counter

	// Error metrics
	CatalogErrors  prometheus.Counter
	PlatformErrors prometheus.Counter
	LedgerErrors   prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // address for the metrics HTTP server, e.g. ":9090"
}

var defaultMetrics *Metrics

// Init initializes the global metrics. Call once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "acquirer"
	}

	m := &Metrics{
		ScenesDiscovered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenes_discovered_total",
				Help:      "Total number of candidate scenes returned by catalog discovery",
			},
			[]string{"sensor", "purpose"},
		),
		UnitsGrouped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_grouped_total",
				Help:      "Total number of export units formed by grouping",
			},
			[]string{"sensor", "purpose"},
		),
		UnitsApproved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_approved_total",
				Help:      "Total number of export units that passed the quality gate",
			},
			[]string{"sensor", "purpose"},
		),
		UnitsFiltered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_filtered_total",
				Help:      "Total number of export units rejected by the quality gate",
			},
			[]string{"sensor", "purpose"},
		),
		JobsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Total number of export jobs submitted to the platform",
			},
			[]string{"sensor"},
		),
		JobsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_skipped_total",
				Help:      "Total number of export jobs skipped (already acquired or active)",
			},
			[]string{"sensor"},
		),
		JobsCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Total number of export jobs that completed",
			},
		),
		JobsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_failed_total",
				Help:      "Total number of export jobs that failed or were cancelled",
			},
		),
		JobsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_pending",
				Help:      "Number of export jobs currently being monitored",
			},
		),
		PollPasses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_passes_total",
				Help:      "Total number of monitoring poll passes",
			},
		),
		CatalogErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of catalog discovery errors",
			},
		),
		PlatformErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "platform_errors_total",
				Help:      "Total number of platform API errors",
			},
		),
		LedgerErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Total number of ledger errors",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance, or nil before Init.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus scraping. Blocks
// until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}
