package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	CacheLookupsTotal   *prometheus.CounterVec
	CacheEvictionsTotal prometheus.Counter
	CacheEntries        prometheus.Gauge
	CacheSizeBytes      prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
	FetchDuration       prometheus.Histogram
	RecorderDropped     prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pagejson_requests_total",
			Help: "Requests seen by the page API, by outcome.",
		}, []string{"outcome"}), // page, pass_through, error
		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pagejson_cache_lookups_total",
			Help: "Page cache lookups, by result.",
		}, []string{"result"}), // hit, miss
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pagejson_cache_evictions_total",
			Help: "Entries evicted to make room for new pages.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pagejson_cache_entries",
			Help: "Current number of cached pages.",
		}),
		CacheSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pagejson_cache_size_bytes",
			Help: "Current accounted size of the page cache.",
		}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pagejson_errors_total",
			Help: "Errors returned to clients, by error type.",
		}, []string{"type"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagejson_fetch_duration_seconds",
			Help:    "Duration of origin fetches.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RecorderDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pagejson_recorder_dropped_total",
			Help: "History events dropped because the recorder was saturated.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pagejson_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagejson_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionsTotal.Add(float64(n))
}

func (m *Metrics) SetCacheStats(entries int, sizeBytes int64) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(entries))
	m.CacheSizeBytes.Set(float64(sizeBytes))
}

func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveFetch(seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(seconds)
}

func (m *Metrics) IncRecorderDropped() {
	if m == nil {
		return
	}
	m.RecorderDropped.Inc()
}

func (m *Metrics) ObserveHTTP(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, status).Observe(seconds)
}
