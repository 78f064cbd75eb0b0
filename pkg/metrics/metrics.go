// Package metrics defines the Prometheus metric collectors used by the
// prefix index and its HTTP surface, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PrefixQueriesTotal   *prometheus.CounterVec
	PrefixQueryLatency   prometheus.Histogram
	PrefixQueryResults   prometheus.Histogram
	SharedQueriesTotal   prometheus.Counter
	MissingRecordsTotal  prometheus.Counter
	RecordsIndexedTotal  prometheus.Counter
	ScoreBumpsTotal      *prometheus.CounterVec
	IndexResetsTotal     prometheus.Counter
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PrefixQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefix_queries_total",
				Help: "Total prefix queries by result type (hit, zero_result, empty, error).",
			},
			[]string{"result_type"},
		),
		PrefixQueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prefix_query_latency_seconds",
				Help:    "Prefix query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		PrefixQueryResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prefix_query_results",
				Help:    "Number of records returned per prefix query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		SharedQueriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "prefix_queries_shared_total",
				Help: "Prefix queries answered by an identical in-flight query.",
			},
		),
		MissingRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_missing_records_total",
				Help: "Indexed ids with no stored record at query time.",
			},
		),
		RecordsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "records_indexed_total",
				Help: "Total records registered in the prefix index.",
			},
		),
		ScoreBumpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "score_bumps_total",
				Help: "Total relevance score increments by source (api, kafka).",
			},
			[]string{"source"},
		),
		IndexResetsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_resets_total",
				Help: "Total clear-and-reload operations.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PrefixQueriesTotal,
		m.PrefixQueryLatency,
		m.PrefixQueryResults,
		m.SharedQueriesTotal,
		m.MissingRecordsTotal,
		m.RecordsIndexedTotal,
		m.ScoreBumpsTotal,
		m.IndexResetsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
