// Package metrics defines the Prometheus collectors of the merge service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	FetchTotal           *prometheus.CounterVec
	FetchDuration        prometheus.Histogram
	FetchBytesTotal      prometheus.Counter
	FetchRetriesTotal    prometheus.Counter
	MergesTotal          *prometheus.CounterVec
	MergeDuration        prometheus.Histogram
	MergedPages          prometheus.Histogram
	ChaptersDropped      prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	StagedBytes          prometheus.Gauge
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
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
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		FetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_fetch_total",
				Help: "Source document fetches by outcome.",
			},
			[]string{"outcome"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_fetch_duration_seconds",
				Help:    "Source document fetch latency including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		FetchBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_fetch_bytes_total",
				Help: "Bytes downloaded from source servers.",
			},
		),
		FetchRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_fetch_retries_total",
				Help: "Fetch attempts beyond the first.",
			},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusion_merges_total",
				Help: "Merge requests by outcome (ok, validation, fetch, parse, integrity, timeout, canceled, internal).",
			},
			[]string{"outcome"},
		),
		MergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_merge_duration_seconds",
				Help:    "End-to-end merge latency.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		MergedPages: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusion_merged_pages",
				Help:    "Pages in each merged document.",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500},
			},
		),
		ChaptersDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_chapters_dropped_total",
				Help: "Chapters skipped because their metadata could not be resolved.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_cache_hits_total",
				Help: "Merged document cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fusion_cache_misses_total",
				Help: "Merged document cache misses.",
			},
		),
		StagedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusion_staged_bytes",
				Help: "Bytes currently held in staging (memory and disk).",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.FetchTotal,
		m.FetchDuration,
		m.FetchBytesTotal,
		m.FetchRetriesTotal,
		m.MergesTotal,
		m.MergeDuration,
		m.MergedPages,
		m.ChaptersDropped,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.StagedBytes,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) AddFetchedBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FetchBytesTotal.Add(float64(n))
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.FetchRetriesTotal.Inc()
}

func (m *Metrics) ObserveMerge(outcome string, d time.Duration, pages int) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(outcome).Inc()
	m.MergeDuration.Observe(d.Seconds())
	if pages > 0 {
		m.MergedPages.Observe(float64(pages))
	}
}

func (m *Metrics) AddDroppedChapters(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChaptersDropped.Add(float64(n))
}

func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) AddStaged(delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.StagedBytes.Add(float64(delta))
}
