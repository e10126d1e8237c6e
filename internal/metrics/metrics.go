// Package metrics provides Prometheus metrics for the bookmarks server.
//
// Each Metrics value owns its registry so that several instances (tests,
// embedded servers) can coexist without duplicate registration panics.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	searchRequests    *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	retrieverDuration *prometheus.HistogramVec
	retrieverDegraded *prometheus.CounterVec
	embeddingRequests *prometheus.CounterVec
	ingestBookmarks   *prometheus.CounterVec
	corpusBumps       prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	httpInFlight      prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	latencyBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	return &Metrics{
		registry: reg,
		searchRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_search_requests_total",
				Help: "Total number of search requests",
			},
			[]string{"mode", "outcome"},
		),
		searchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookmarks_search_duration_seconds",
				Help:    "Search latency in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"mode", "cached"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_cache_lookups_total",
				Help: "Result cache lookups by result (hit, miss, stale, expired, error)",
			},
			[]string{"result"},
		),
		retrieverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookmarks_retriever_duration_seconds",
				Help:    "Retriever latency in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"source"},
		),
		retrieverDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_retriever_degraded_total",
				Help: "Retriever contributions dropped because of timeouts or errors",
			},
			[]string{"source", "reason"},
		),
		embeddingRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_embedding_requests_total",
				Help: "Query embedding requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ingestBookmarks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_ingest_bookmarks_total",
				Help: "Bookmarks processed by the ingest pipeline by outcome",
			},
			[]string{"outcome"},
		),
		corpusBumps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bookmarks_corpus_version_bumps_total",
				Help: "Per-user corpus version increments",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmarks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookmarks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method", "route"},
		),
		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bookmarks_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(mode, outcome string, cached bool, d time.Duration) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(mode, outcome).Inc()
	m.searchDuration.WithLabelValues(mode, strconv.FormatBool(cached)).Observe(d.Seconds())
}

// CacheLookup records a result cache lookup outcome.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRetriever records a retriever call latency.
func (m *Metrics) ObserveRetriever(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrieverDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RetrieverDegraded records a dropped retriever contribution.
func (m *Metrics) RetrieverDegraded(source, reason string) {
	if m == nil {
		return
	}
	m.retrieverDegraded.WithLabelValues(source, reason).Inc()
}

// EmbeddingRequest records a query embedding outcome.
func (m *Metrics) EmbeddingRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(provider, outcome).Inc()
}

// IngestBookmarks records n bookmarks processed with the given outcome.
func (m *Metrics) IngestBookmarks(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestBookmarks.WithLabelValues(outcome).Add(float64(n))
}

// CorpusBump records a corpus version increment.
func (m *Metrics) CorpusBump() {
	if m == nil {
		return
	}
	m.corpusBumps.Inc()
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// HTTPInFlight adjusts the in-flight request gauge by delta.
func (m *Metrics) HTTPInFlight(delta float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(delta)
}

// CounterValue returns the value of the counter series name whose labels
// equal labels, or zero when no such series has been recorded.
func (m *Metrics) CounterValue(name string, labels map[string]string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.registry.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, metric := range mf.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for _, lp := range pairs {
				if v, ok := labels[lp.GetName()]; !ok || v != lp.GetValue() {
					continue series
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
