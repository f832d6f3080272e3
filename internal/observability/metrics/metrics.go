// Package metrics provides Prometheus instrumentation for reportchain.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	submissionsTotal       *prometheus.CounterVec
	classifierRequests     *prometheus.CounterVec
	chainTransactionsTotal *prometheus.CounterVec
	chainGasUsed           *prometheus.HistogramVec
	statusChangesTotal     *prometheus.CounterVec
	projectedReports       prometheus.Counter
)

// Init initializes the metrics system. It registers collectors with the
// default registry and must be called at most once per process.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	constLabels := prometheus.Labels{"service": svcName}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "report_submissions_total",
			Help:        "Report submissions by kind and outcome",
			ConstLabels: constLabels,
		},
		[]string{"kind", "outcome"},
	)

	classifierRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "classifier_requests_total",
			Help:        "Classification requests by outcome",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	chainTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "chain_transactions_total",
			Help:        "Contract transactions by contract, method and outcome",
			ConstLabels: constLabels,
		},
		[]string{"contract", "method", "outcome"},
	)

	// Submissions are capped at a few hundred thousand gas.
	chainGasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "chain_gas_used",
			Help:        "Gas used by mined transactions",
			Buckets:     prometheus.ExponentialBuckets(21000, 2, 6),
			ConstLabels: constLabels,
		},
		[]string{"method"},
	)

	statusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "report_status_changes_total",
			Help:        "Report status transitions by target status and outcome",
			ConstLabels: constLabels,
		},
		[]string{"status", "outcome"},
	)

	projectedReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:        "reports_projected_total",
			Help:        "Ledger records read and projected for listing",
			ConstLabels: constLabels,
		},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
