// Package metrics exposes Prometheus collectors for the aggregator service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestPagesTotal        *prometheus.CounterVec
	ingestJobsTotal         *prometheus.CounterVec
	ingestRunsTotal         *prometheus.CounterVec
	ingestRunDurationSecs   prometheus.Histogram
	ingestPartitionsTotal   *prometheus.CounterVec
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_ingest_pages_total",
				Help: "Total pages fetched from the job source, labeled by result.",
			},
			[]string{"result"},
		)

		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_ingest_jobs_total",
				Help: "Total job records loaded, labeled by upsert outcome.",
			},
			[]string{"outcome"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_ingest_runs_total",
				Help: "Total ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		ingestRunDurationSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aggregator_ingest_run_duration_seconds",
				Help:    "Histogram of full ingestion run durations.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
		)

		ingestPartitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregator_ingest_partitions_total",
				Help: "Total partition sweeps, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the fetched-page counter for the given result
// ("ok", "error" or "limit").
func ObservePage(result string) {
	ingestPagesTotal.WithLabelValues(result).Inc()
}

// ObserveJob increments the loaded-job counter for the given outcome
// ("created", "updated" or "failed").
func ObserveJob(outcome string) {
	ingestJobsTotal.WithLabelValues(outcome).Inc()
}

// ObservePartition increments the partition counter for the given result
// ("ok", "truncated" or "failed").
func ObservePartition(result string) {
	ingestPartitionsTotal.WithLabelValues(result).Inc()
}

// ObserveRun records a completed ingestion run and its duration.
func ObserveRun(status string, duration time.Duration) {
	ingestRunsTotal.WithLabelValues(status).Inc()
	ingestRunDurationSecs.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
