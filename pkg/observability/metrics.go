package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageRetriesTotal      *prometheus.CounterVec
	StorageQuarantinedTotal  prometheus.Counter
	StorageDedupHitsTotal    prometheus.Counter

	// Auth metrics
	TokensIssuedTotal       *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	AuthDenialsTotal        *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Business metrics
	ArtifactsTotal prometheus.Gauge
	VersionsTotal  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curio_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curio_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_storage_operations_total",
				Help: "Total number of storage backend operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "curio_storage_operation_duration_seconds",
				Help:    "Storage backend operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		StorageRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_storage_retries_total",
				Help: "Total number of retried storage backend operations",
			},
			[]string{"operation", "backend"},
		),
		StorageQuarantinedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curio_storage_quarantined_total",
				Help: "Total number of storage objects quarantined after integrity failure",
			},
		),
		StorageDedupHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "curio_storage_dedup_hits_total",
				Help: "Total number of content uploads deduplicated by hash",
			},
		),

		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_tokens_issued_total",
				Help: "Total number of service tokens issued",
			},
			[]string{"status"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_token_verifications_total",
				Help: "Total number of service token verifications",
			},
			[]string{"status"},
		),
		AuthDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_auth_denials_total",
				Help: "Total number of authorization denials",
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "curio_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"tier"},
		),

		ArtifactsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curio_artifacts_total",
				Help: "Total number of registered artifacts",
			},
		),
		VersionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "curio_versions_total",
				Help: "Total number of artifact versions (including tombstoned)",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageRetriesTotal,
		m.StorageQuarantinedTotal,
		m.StorageDedupHitsTotal,
		m.TokensIssuedTotal,
		m.TokenVerificationsTotal,
		m.AuthDenialsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ArtifactsTotal,
		m.VersionsTotal,
	)

	return m
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// ObserveStorageOperation records metrics for a storage backend operation
func (m *Metrics) ObserveStorageOperation(operation, backend, status string, duration time.Duration) {
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveStorageRetry records a retried storage backend operation
func (m *Metrics) ObserveStorageRetry(operation, backend string) {
	m.StorageRetriesTotal.WithLabelValues(operation, backend).Inc()
}

// ObserveQuarantine records an object quarantined after integrity failure
func (m *Metrics) ObserveQuarantine() {
	m.StorageQuarantinedTotal.Inc()
}

// ObserveDedupHit records an upload deduplicated by content hash
func (m *Metrics) ObserveDedupHit() {
	m.StorageDedupHitsTotal.Inc()
}

// ObserveCache records a cache lookup outcome for a tier
func (m *Metrics) ObserveCache(tier string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(tier).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
