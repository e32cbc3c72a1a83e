// Package metrics exposes Prometheus collectors for the GDP pipeline.
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
	pagesFetchedTotal          *prometheus.CounterVec
	recordsExtractedTotal      prometheus.Counter
	recordsLoadedTotal         *prometheus.CounterVec
	recordsSkippedTotal        prometheus.Counter
	phaseDurationSeconds       *prometheus.HistogramVec
	phaseAttemptsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	sideOutputsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdp_pages_fetched_total",
				Help: "Total number of indicator pages requested, labeled by outcome.",
			},
			[]string{"status"},
		)

		recordsExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gdp_records_extracted_total",
				Help: "Total number of raw indicator records extracted.",
			},
		)

		recordsLoadedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdp_records_loaded_total",
				Help: "Total number of rows upserted, labeled by table.",
			},
			[]string{"table"},
		)

		recordsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gdp_records_skipped_total",
				Help: "Total number of malformed records dropped during normalization.",
			},
		)

		phaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdp_phase_duration_seconds",
				Help:    "Histogram of pipeline phase latencies, labeled by phase and outcome.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"phase", "status"},
		)

		phaseAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdp_phase_attempts_total",
				Help: "Total number of phase attempts including retries, labeled by phase.",
			},
			[]string{"phase"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdp_runs_total",
				Help: "Total number of pipeline runs, labeled by final status.",
			},
			[]string{"status"},
		)

		sideOutputsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdp_side_outputs_total",
				Help: "Mirror, archive and publish attempts, labeled by target and outcome.",
			},
			[]string{"target", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdp_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the request pacer, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one page request outcome ("ok" or "failed").
func ObservePage(status string) {
	Init()
	pagesFetchedTotal.WithLabelValues(status).Inc()
}

// ObserveRecordsExtracted adds n extracted records.
func ObserveRecordsExtracted(n int) {
	Init()
	if n > 0 {
		recordsExtractedTotal.Add(float64(n))
	}
}

// ObserveRecordsLoaded adds n upserted rows for table.
func ObserveRecordsLoaded(table string, n int) {
	Init()
	if n > 0 {
		recordsLoadedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveRecordsSkipped adds n dropped records.
func ObserveRecordsSkipped(n int) {
	Init()
	if n > 0 {
		recordsSkippedTotal.Add(float64(n))
	}
}

// ObservePhase records one phase attempt and its duration.
func ObservePhase(phase, status string, duration time.Duration) {
	Init()
	phaseAttemptsTotal.WithLabelValues(phase).Inc()
	phaseDurationSeconds.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveSideOutput counts a mirror/archive/publish attempt.
func ObserveSideOutput(target, status string) {
	Init()
	sideOutputsTotal.WithLabelValues(target, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for the pacer.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
