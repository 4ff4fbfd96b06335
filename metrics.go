package restq

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the query cache and the resilience layers. It is safe for concurrent use
// and every recorder is a no-op on a nil receiver.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	queryCacheHits   *prometheus.CounterVec
	queryCacheMisses *prometheus.CounterVec
	queryCacheSize   *prometheus.GaugeVec

	coalescedFetches *prometheus.CounterVec

	optimisticRollbacks *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restq_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restq_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restq_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restq_rate_limiter_tokens",
				Help: "Current number of available rate limiter tokens",
			},
			[]string{"name"},
		),
		queryCacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_query_cache_hits_total",
				Help: "Total number of fresh query cache hits",
			},
			[]string{"key"},
		),
		queryCacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_query_cache_misses_total",
				Help: "Total number of query cache misses or stale reads",
			},
			[]string{"key"},
		),
		queryCacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restq_query_cache_size",
				Help: "Current number of entries in the query cache",
			},
			[]string{"name"},
		),
		coalescedFetches: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_coalesced_fetches_total",
				Help: "Total number of fetches served by another caller's in-flight request",
			},
			[]string{"key"},
		),
		optimisticRollbacks: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_optimistic_rollbacks_total",
				Help: "Total number of optimistic cache writes rolled back after a failed mutation",
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restq_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind", "method", "endpoint"},
		),
		registry: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens sets the available token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens int) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(name).Set(float64(tokens))
}

// RecordQueryCacheHit increments the fresh-hit counter for a key.
func (mc *MetricsCollector) RecordQueryCacheHit(key string) {
	if mc == nil {
		return
	}
	mc.queryCacheHits.WithLabelValues(key).Inc()
}

// RecordQueryCacheMiss increments the miss counter for a key.
func (mc *MetricsCollector) RecordQueryCacheMiss(key string) {
	if mc == nil {
		return
	}
	mc.queryCacheMisses.WithLabelValues(key).Inc()
}

// RecordQueryCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordQueryCacheSize(name string, size int) {
	if mc == nil {
		return
	}
	mc.queryCacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordCoalescedFetch increments the coalesced fetch counter.
func (mc *MetricsCollector) RecordCoalescedFetch(key string) {
	if mc == nil {
		return
	}
	mc.coalescedFetches.WithLabelValues(key).Inc()
}

// RecordOptimisticRollback increments the rollback counter for an operation.
func (mc *MetricsCollector) RecordOptimisticRollback(operation string) {
	if mc == nil {
		return
	}
	mc.optimisticRollbacks.WithLabelValues(operation).Inc()
}

// RecordError increments the error counter by kind.
func (mc *MetricsCollector) RecordError(kind, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind, method, endpoint).Inc()
}
