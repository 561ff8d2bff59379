// Package metrics provides Prometheus metrics for the card price refresh service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Upstream source calls
	sourceRequests        *prometheus.CounterVec
	sourceRequestDuration *prometheus.HistogramVec
	sourceRetries         *prometheus.CounterVec
	breakerState          *prometheus.GaugeVec
	breakerRejections     *prometheus.CounterVec
	rateLimitRejections   *prometheus.CounterVec
	malformedResponses    *prometheus.CounterVec
	authFailures          *prometheus.CounterVec

	// Aggregation
	refreshOutcomes *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
	fallbacks       *prometheus.CounterVec
	historyAppends  prometheus.Counter
	historyErrors   prometheus.Counter
	cacheWrites     prometheus.Counter
	cacheErrors     prometheus.Counter
	cacheLookups    *prometheus.CounterVec
	cacheEntries    prometheus.Gauge

	// Scheduling
	dedupHits       prometheus.Counter
	tasksEnqueued   prometheus.Counter
	queueSize       prometheus.Gauge
	queueCapacity   prometheus.Gauge
	queueRejections *prometheus.CounterVec
	workerCount     prometheus.Gauge
	taskRetries     prometheus.Counter
	taskFailures    prometheus.Counter
	taskLatency     prometheus.Histogram
	staleSweeps     prometheus.Counter

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tcgprice",
		subsystem:        "refresh",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.sourceRequests = m.counterVec("source_requests_total", "Upstream marketplace calls by final outcome", "source", "outcome")
	m.sourceRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "source_request_duration_milliseconds",
		Help:    "Duration of one Execute call including retries",
		Buckets: m.histogramBuckets,
	}, []string{"source"})
	m.sourceRetries = m.counterVec("source_retries_total", "Retried upstream attempts", "source")
	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "breaker_state",
		Help: "Circuit state per source (0 closed, 1 open, 2 half-open)",
	}, []string{"source"})
	m.breakerRejections = m.counterVec("breaker_rejections_total", "Calls rejected by an open circuit", "source")
	m.rateLimitRejections = m.counterVec("ratelimit_rejections_total", "Calls rejected by the local rate budget", "source")
	m.malformedResponses = m.counterVec("malformed_responses_total", "Responses rejected by normalization", "source")
	m.authFailures = m.counterVec("auth_failures_total", "Authentication or authorization failures", "source")

	m.refreshOutcomes = m.counterVec("refresh_outcomes_total", "RefreshPrice results", "outcome")
	m.refreshLatency = m.histogram("refresh_latency_milliseconds", "Duration of RefreshPrice")
	m.fallbacks = m.counterVec("fallbacks_total", "Sources skipped during the fallback walk", "source", "reason")
	m.historyAppends = m.counter("history_appends_total", "Price history rows appended")
	m.historyErrors = m.counter("history_errors_total", "Failed price history appends")
	m.cacheWrites = m.counter("cache_writes_total", "Cache entries written after a fresh quote")
	m.cacheErrors = m.counter("cache_errors_total", "Failed cache writes")
	m.cacheLookups = m.counterVec("cache_lookups_total", "Quote cache lookups", "result")
	m.cacheEntries = m.gauge("cache_entries", "Quotes currently cached")

	m.dedupHits = m.counter("dedup_hits_total", "Refresh requests collapsed into an existing task")
	m.tasksEnqueued = m.counter("tasks_enqueued_total", "Refresh tasks accepted by the queue")
	m.queueSize = m.gauge("queue_size", "Current refresh queue backlog")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum refresh queue capacity")
	m.queueRejections = m.counterVec("queue_rejections_total", "Refresh tasks rejected by the queue", "reason")
	m.workerCount = m.gauge("worker_count", "Refresh workers running")
	m.taskRetries = m.counter("task_retries_total", "Whole-task retries")
	m.taskFailures = m.counter("task_failures_total", "Tasks that exhausted their retries")
	m.taskLatency = m.histogram("task_latency_milliseconds", "Task processing time including retries")
	m.staleSweeps = m.counter("stale_sweeps_total", "Stale-card sweeps executed")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = m.counterVec("http_errors_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// Source metrics.

// RecordSourceRequest counts one Execute call by its final outcome.
func RecordSourceRequest(source, outcome string, durationMs float64) {
	globalManager.sourceRequests.WithLabelValues(source, outcome).Inc()
	globalManager.sourceRequestDuration.WithLabelValues(source).Observe(durationMs)
}

// RecordSourceRetry counts a retried attempt.
func RecordSourceRetry(source string) {
	globalManager.sourceRetries.WithLabelValues(source).Inc()
}

// UpdateBreakerState publishes the circuit state of a source.
func UpdateBreakerState(source string, state int) {
	globalManager.breakerState.WithLabelValues(source).Set(float64(state))
}

// RecordBreakerRejection counts a call refused by the circuit.
func RecordBreakerRejection(source string) {
	globalManager.breakerRejections.WithLabelValues(source).Inc()
}

// RecordRateLimitRejection counts a call refused by the local budget.
func RecordRateLimitRejection(source string) {
	globalManager.rateLimitRejections.WithLabelValues(source).Inc()
}

// RecordMalformedResponse counts a response that failed normalization.
func RecordMalformedResponse(source string) {
	globalManager.malformedResponses.WithLabelValues(source).Inc()
}

// RecordAuthFailure counts a 401/403 or token endpoint failure.
func RecordAuthFailure(source string) {
	globalManager.authFailures.WithLabelValues(source).Inc()
}

// Aggregation metrics.

// RecordRefresh counts a RefreshPrice outcome (fresh, stale, failed, error).
func RecordRefresh(outcome string, latencyMs float64) {
	globalManager.refreshOutcomes.WithLabelValues(outcome).Inc()
	globalManager.refreshLatency.Observe(latencyMs)
}

// RecordFallback counts a source skipped in the fallback walk.
func RecordFallback(source, reason string) {
	globalManager.fallbacks.WithLabelValues(source, reason).Inc()
}

// RecordHistoryAppend counts an appended history row.
func RecordHistoryAppend() { globalManager.historyAppends.Inc() }

// RecordHistoryError counts a failed history append.
func RecordHistoryError() { globalManager.historyErrors.Inc() }

// RecordCacheWrite counts a cache write.
func RecordCacheWrite() { globalManager.cacheWrites.Inc() }

// RecordCacheError counts a failed cache write.
func RecordCacheError() { globalManager.cacheErrors.Inc() }

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.cacheLookups.WithLabelValues(result).Inc()
}

// UpdateCacheEntries sets the number of cached quotes.
func UpdateCacheEntries(n int) { globalManager.cacheEntries.Set(float64(n)) }

// Scheduling metrics.

// RecordDedupHit counts a collapsed refresh request.
func RecordDedupHit() { globalManager.dedupHits.Inc() }

// RecordTaskEnqueued counts an accepted task.
func RecordTaskEnqueued() { globalManager.tasksEnqueued.Inc() }

// UpdateQueueSize sets the current queue backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueRejection counts a task the queue refused.
func RecordQueueRejection(reason string) {
	globalManager.queueRejections.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordTaskRetry counts a whole-task retry.
func RecordTaskRetry() { globalManager.taskRetries.Inc() }

// RecordTaskFailure counts a task that exhausted its retries.
func RecordTaskFailure() { globalManager.taskFailures.Inc() }

// RecordTaskLatency records task processing time.
func RecordTaskLatency(latencyMs float64) { globalManager.taskLatency.Observe(latencyMs) }

// RecordStaleSweep counts a stale-card sweep.
func RecordStaleSweep() { globalManager.staleSweeps.Inc() }

// HTTP metrics.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
