package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataagent_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataagent_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern. Tool calls wait on the warehouse and generator.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataagent_query_executions_total",
			Help: "Total number of warehouse query executions by outcome.",
		},
		[]string{"status", "dry_run"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataagent_query_duration_seconds",
			Help:    "Warehouse query latency including validation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"dry_run"},
	)
	queryBytesProcessed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataagent_query_bytes_processed",
			Help:    "Bytes processed (or estimated by dry run) per query.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 8, 10),
		},
	)
	rowCountAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataagent_rowcount_attempts_total",
			Help: "Row-count estimation attempts by strategy and outcome.",
		},
		[]string{"strategy", "status"},
	)
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataagent_intents_total",
			Help: "Questions answered by detected intent.",
		},
		[]string{"intent"},
	)
	sandboxRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataagent_sandbox_runs_total",
			Help: "Analysis sandbox runs by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		queryExecutionsTotal,
		queryDurationSeconds,
		queryBytesProcessed,
		rowCountAttemptsTotal,
		intentsTotal,
		sandboxRunsTotal,
	)
}

func ObserveQueryExecution(status string, dryRun bool, bytesProcessed int64, elapsed time.Duration) {
	dryRunLabel := strconv.FormatBool(dryRun)
	queryExecutionsTotal.WithLabelValues(status, dryRunLabel).Inc()
	queryDurationSeconds.WithLabelValues(dryRunLabel).Observe(elapsed.Seconds())
	if bytesProcessed > 0 {
		queryBytesProcessed.Observe(float64(bytesProcessed))
	}
}

func ObserveRowCountAttempt(strategy, status string) {
	rowCountAttemptsTotal.WithLabelValues(strategy, status).Inc()
}

func ObserveIntent(intent string) {
	intentsTotal.WithLabelValues(intent).Inc()
}

func ObserveSandboxRun(status string) {
	sandboxRunsTotal.WithLabelValues(status).Inc()
}
