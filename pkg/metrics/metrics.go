// Package metrics defines the Prometheus metric collectors used by the
// ingestion drivers and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for an ingestion run.
type Metrics struct {
	registry            *prometheus.Registry
	SubmissionsTotal    *prometheus.CounterVec
	SubmissionDuration  *prometheus.HistogramVec
	SubmissionsInFlight prometheus.Gauge
	BytesSubmittedTotal prometheus.Counter
	DocsReadTotal       prometheus.Counter
	SourceErrorsTotal   prometheus.Counter
	IngestRate          prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_submissions_total",
				Help: "Document submissions by index and outcome (indexed, failed, skipped).",
			},
			[]string{"index", "outcome"},
		),
		SubmissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_submission_duration_seconds",
				Help:    "Time from issuing a submission to its acknowledgement.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"index"},
		),
		SubmissionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_submissions_in_flight",
				Help: "Submissions issued but not yet completed.",
			},
		),
		BytesSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_bytes_submitted_total",
				Help: "Document body bytes acknowledged by the search service.",
			},
		),
		DocsReadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_docs_read_total",
				Help: "Documents read from the source.",
			},
		),
		SourceErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_source_errors_total",
				Help: "Source lines that could not be parsed.",
			},
		),
		IngestRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_rate_docs_per_second",
				Help: "One-minute moving average of indexed documents per second.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_http_requests_total",
				Help: "Requests to the metrics and health endpoints by path and status code.",
			},
			[]string{"path", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_http_request_duration_seconds",
				Help:    "Latency of the metrics and health endpoints.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}

	m.registry.MustRegister(
		m.SubmissionsTotal,
		m.SubmissionDuration,
		m.SubmissionsInFlight,
		m.BytesSubmittedTotal,
		m.DocsReadTotal,
		m.SourceErrorsTotal,
		m.IngestRate,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// Registry exposes the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for m.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
