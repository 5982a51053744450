// Package metrics defines the Prometheus collectors used across the
// synchronization pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	EngineRequestsTotal   *prometheus.CounterVec
	EngineRequestDuration *prometheus.HistogramVec
	TargetsPlannedTotal   *prometheus.CounterVec
	JobsDispatchedTotal   *prometheus.CounterVec
	JobsProcessedTotal    *prometheus.CounterVec
	JobDuration           prometheus.Histogram
	DocumentsUploaded     *prometheus.CounterVec
	UploadFlushesTotal    *prometheus.CounterVec
	UploadPayloadBytes    prometheus.Histogram
	TaskWaitDuration      *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EngineRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_requests_total",
				Help: "Total requests sent to the search engine by method and status.",
			},
			[]string{"method", "status"},
		),
		EngineRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_request_duration_seconds",
				Help:    "Search engine request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		TargetsPlannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_targets_planned_total",
				Help: "Index targets produced by the planner by kind (base, source, target).",
			},
			[]string{"kind"},
		),
		JobsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_jobs_dispatched_total",
				Help: "Indexing jobs dispatched by transport (sync, async).",
			},
			[]string{"transport"},
		),
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_jobs_processed_total",
				Help: "Indexing jobs handled by outcome (ok, retry, dead_letter, invalid, duplicate).",
			},
			[]string{"outcome"},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_job_duration_seconds",
				Help:    "Time to handle one indexing job.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		DocumentsUploaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "documents_uploaded_total",
				Help: "Documents sent to the search engine by index.",
			},
			[]string{"index"},
		),
		UploadFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upload_flushes_total",
				Help: "NDJSON payload flushes by status.",
			},
			[]string{"status"},
		),
		UploadPayloadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "upload_payload_bytes",
				Help:    "Size of each NDJSON payload sent to the engine.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 9),
			},
		),
		TaskWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_wait_duration_seconds",
				Help:    "Time spent polling an engine task until it settled, by final status.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.EngineRequestsTotal,
		m.EngineRequestDuration,
		m.TargetsPlannedTotal,
		m.JobsDispatchedTotal,
		m.JobsProcessedTotal,
		m.JobDuration,
		m.DocumentsUploaded,
		m.UploadFlushesTotal,
		m.UploadPayloadBytes,
		m.TaskWaitDuration,
		m.CircuitBreakerState,
	)

	return m
}

// NewUnregistered returns collectors bound to a private registry. Tests and
// one-shot CLI commands use it to avoid duplicate registration.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
