package homerelay

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the runtime's request
// lifecycle and reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal        *prometheus.CounterVec
	retryBudgetExceeded *prometheus.CounterVec

	breakerState *prometheus.GaugeVec

	limiterOccupancy prometheus.Gauge
	limiterCeiling   prometheus.Gauge

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheBytes     prometheus.Gauge

	dispatchesTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "homerelay_requests_total",
				Help: "Total number of outbound requests made",
			},
			[]string{"method", "status_code", "dependency"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "homerelay_request_duration_seconds",
				Help:    "Duration of outbound requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "dependency"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "homerelay_requests_in_flight",
				Help: "Number of outbound requests currently in flight",
			},
			[]string{"method", "dependency"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "homerelay_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "dependency", "attempt"},
		),
		retryBudgetExceeded: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "homerelay_retry_budget_exceeded_total",
				Help: "Calls terminated because the retry budget was exhausted",
			},
			[]string{"dependency"},
		),
		breakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "homerelay_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		),
		limiterOccupancy: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "homerelay_rate_limiter_window_occupancy",
				Help: "Admissions currently inside the rate limiter window",
			},
		),
		limiterCeiling: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "homerelay_rate_limiter_ceiling",
				Help: "Configured per-window admission ceiling",
			},
		),
		cacheHits: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "homerelay_cache_hits_total",
				Help: "Total cache hits",
			},
		),
		cacheMisses: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "homerelay_cache_misses_total",
				Help: "Total cache misses",
			},
		),
		cacheEvictions: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "homerelay_cache_evictions_total",
				Help: "Entries evicted under TTL or memory pressure",
			},
		),
		cacheBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "homerelay_cache_bytes",
				Help: "Estimated bytes held by the cache",
			},
		),
		dispatchesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "homerelay_dispatches_total",
				Help: "Gateway dispatches by interface, operation and outcome",
			},
			[]string{"interface", "operation", "error_kind"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "homerelay_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind", "method", "dependency"},
		),
	}
}

// RecordRequestStart marks a request in flight.
func (mc *MetricsCollector) RecordRequestStart(method, dependency string) {
	mc.requestsInFlight.WithLabelValues(method, dependency).Inc()
}

// RecordRequestEnd marks a request complete.
func (mc *MetricsCollector) RecordRequestEnd(method, dependency string) {
	mc.requestsInFlight.WithLabelValues(method, dependency).Dec()
}

// RecordRequest records a finished request with its terminal status code.
func (mc *MetricsCollector) RecordRequest(method, dependency string, statusCode int, duration time.Duration) {
	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), dependency).Inc()
	mc.requestDuration.WithLabelValues(method, dependency).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, dependency string, attempt int) {
	mc.retriesTotal.WithLabelValues(method, dependency, strconv.Itoa(attempt)).Inc()
}

// RecordRetryBudgetExceeded records a call killed by budget exhaustion.
func (mc *MetricsCollector) RecordRetryBudgetExceeded(dependency string) {
	mc.retryBudgetExceeded.WithLabelValues(dependency).Inc()
}

// RecordBreakerState records the current state of a dependency's breaker.
func (mc *MetricsCollector) RecordBreakerState(dependency string, state CircuitState) {
	mc.breakerState.WithLabelValues(dependency).Set(float64(state))
}

// RecordLimiterOccupancy records the sliding window's current occupancy.
func (mc *MetricsCollector) RecordLimiterOccupancy(occupancy, ceiling int) {
	mc.limiterOccupancy.Set(float64(occupancy))
	mc.limiterCeiling.Set(float64(ceiling))
}

// RecordCacheHit counts a cache hit.
func (mc *MetricsCollector) RecordCacheHit() {
	mc.cacheHits.Inc()
}

// RecordCacheMiss counts a cache miss.
func (mc *MetricsCollector) RecordCacheMiss() {
	mc.cacheMisses.Inc()
}

// RecordCacheEviction counts n evicted entries.
func (mc *MetricsCollector) RecordCacheEviction(n int) {
	mc.cacheEvictions.Add(float64(n))
}

// RecordCacheBytes records the cache's estimated footprint.
func (mc *MetricsCollector) RecordCacheBytes(bytes int) {
	mc.cacheBytes.Set(float64(bytes))
}

// RecordDispatch records one gateway dispatch. errorKind is "" on success.
func (mc *MetricsCollector) RecordDispatch(iface, operation, errorKind string) {
	mc.dispatchesTotal.WithLabelValues(iface, operation, errorKind).Inc()
}

// RecordError counts a structured error by kind.
func (mc *MetricsCollector) RecordError(kind, method, dependency string) {
	mc.errorsTotal.WithLabelValues(kind, method, dependency).Inc()
}
