// Package metrics provides Prometheus metrics for the Halom oracle feeder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the oracle.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Sources
	sourceValue   *prometheus.GaugeVec
	sourceFetches *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	cacheHits     *prometheus.CounterVec

	// Consensus
	consensusValue      prometheus.Gauge
	consensusSources    prometheus.Gauge
	consensusErrors     *prometheus.CounterVec
	validationErrors    *prometheus.CounterVec
	cycles              *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	consecutiveFailures prometheus.Gauge
	hoiValue            prometheus.Gauge

	// Chain submission
	submissions *prometheus.CounterVec

	// Nodes
	nodeReputation  *prometheus.GaugeVec
	activeNodes     prometheus.Gauge
	nodeSubmissions *prometheus.CounterVec

	// Queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueue            prometheus.Counter
	queueDequeue            prometheus.Counter
	queueEnqueueErrors      prometheus.Counter
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors and system
	errorsByComponent    *prometheus.CounterVec
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "halom",
		subsystem:        "oracle",
		histogramBuckets: prometheus.DefBuckets,
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
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	latencyBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

	m.sourceValue = m.gaugeVec("source_value", "Last value fetched from each data source", "source")
	m.sourceFetches = m.counterVec("source_fetches_total", "Source fetch attempts by result", "source", "result")
	m.sourceLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "source_fetch_latency_milliseconds",
		Help:        "Source fetch latency in milliseconds",
		Buckets:     latencyBuckets,
		ConstLabels: m.constLabels,
	}, []string{"source"})
	m.cacheHits = m.counterVec("source_cache_hits_total", "Fetches served from the source cache", "source")

	m.consensusValue = m.gauge("consensus_value", "Last accepted consensus value")
	m.consensusSources = m.gauge("consensus_sources", "Number of sources in the last consensus")
	m.consensusErrors = m.counterVec("consensus_errors_total", "Consensus failures by kind", "kind")
	m.validationErrors = m.counterVec("validation_errors_total", "Rejected consensus values by reason", "reason")
	m.cycles = m.counterVec("update_cycles_total", "Update cycles by result", "result")
	m.cycleDuration = m.histogram("update_cycle_duration_milliseconds", "Update cycle duration in milliseconds", latencyBuckets)
	m.consecutiveFailures = m.gauge("consecutive_failures", "Consecutive failed update cycles")
	m.hoiValue = m.gauge("hoi_value", "Last computed Halom Oracle Index")

	m.submissions = m.counterVec("submissions_total", "Chain submissions by kind and result", "kind", "result")

	m.nodeReputation = m.gaugeVec("node_reputation", "Reputation score of each oracle node", "node")
	m.activeNodes = m.gauge("active_nodes", "Number of registered oracle nodes")
	m.nodeSubmissions = m.counterVec("node_submissions_total", "Node submissions by result", "result")

	m.queueSize = m.gauge("queue_size", "Current number of queued fetch jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum fetch queue capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Fetch jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Fetch jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Fetch jobs rejected by the queue")
	m.workerCount = m.gauge("worker_count", "Configured fetch workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Fetch workers currently processing a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker job latency in milliseconds", latencyBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Fetch jobs that ended in an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordSourceFetch records a fetch attempt for source.
func RecordSourceFetch(source string, ok bool, latencyMs float64) {
	globalManager.sourceFetches.WithLabelValues(source, result(ok)).Inc()
	globalManager.sourceLatency.WithLabelValues(source).Observe(latencyMs)
}

// UpdateSourceValue sets the last value fetched from source.
func UpdateSourceValue(source string, value float64) {
	globalManager.sourceValue.WithLabelValues(source).Set(value)
}

// RecordCacheHit counts a fetch served from the cache.
func RecordCacheHit(source string) {
	globalManager.cacheHits.WithLabelValues(source).Inc()
}

// UpdateConsensus sets the last accepted value and its source count.
func UpdateConsensus(value float64, sources int) {
	globalManager.consensusValue.Set(value)
	globalManager.consensusSources.Set(float64(sources))
}

// RecordConsensusError counts an aggregation failure of the given kind.
func RecordConsensusError(kind string) {
	globalManager.consensusErrors.WithLabelValues(kind).Inc()
}

// RecordValidationError counts a rejected value.
func RecordValidationError(reason string) {
	globalManager.validationErrors.WithLabelValues(reason).Inc()
}

// RecordCycle records the outcome and duration of an update cycle.
func RecordCycle(ok bool, durationMs float64) {
	globalManager.cycles.WithLabelValues(result(ok)).Inc()
	globalManager.cycleDuration.Observe(durationMs)
}

// UpdateConsecutiveFailures sets the failure streak.
func UpdateConsecutiveFailures(n int) {
	globalManager.consecutiveFailures.Set(float64(n))
}

// UpdateHOI sets the last computed index.
func UpdateHOI(value float64) {
	globalManager.hoiValue.Set(value)
}

// RecordSubmission counts a chain submission.
func RecordSubmission(kind string, ok bool) {
	globalManager.submissions.WithLabelValues(kind, result(ok)).Inc()
}

// UpdateNodeReputation sets a node's reputation gauge.
func UpdateNodeReputation(node string, score int) {
	globalManager.nodeReputation.WithLabelValues(node).Set(float64(score))
}

// UpdateActiveNodes sets the registered node count.
func UpdateActiveNodes(n int) {
	globalManager.activeNodes.Set(float64(n))
}

// RecordNodeSubmission counts a node submission by result
// (accepted, duplicate, rejected).
func RecordNodeSubmission(res string) {
	globalManager.nodeSubmissions.WithLabelValues(res).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records a job's latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
