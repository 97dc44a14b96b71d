// Package metrics provides Prometheus metrics for the fleettrack pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the fleettrack service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion metrics
	killsIngested    prometheus.Counter
	killsDuplicate   prometheus.Counter
	killsNPC         prometheus.Counter
	packagesEmpty    prometheus.Counter
	packagesRejected prometheus.Counter

	// Resolver metrics
	resolverCacheHits   *prometheus.CounterVec
	resolverCacheMisses *prometheus.CounterVec
	resolverErrors      prometheus.Counter
	resolverFallbacks   prometheus.Counter

	// Fleet metrics
	fleetsCreated  prometheus.Counter
	fleetsExtended prometheus.Counter
	fleetsExpired  prometheus.Counter
	activeFleets   prometheus.Gauge

	// Job metrics
	jobRuns     *prometheus.CounterVec
	jobFailures *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueues    prometheus.Counter
	queueEnqueueErrs prometheus.Counter
	queueDequeues    prometheus.Counter

	// Worker metrics
	workerCount   prometheus.Gauge
	workerErrors  prometheus.Counter
	workerLatency prometheus.Histogram

	// Notification metrics
	notificationsPublished *prometheus.CounterVec
	notificationsDropped   prometheus.Counter

	// HTTP ops surface
	httpRequests *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fleettrack",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	m.killsIngested = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "kills_ingested_total",
		Help:      "Total number of kill events persisted",
	})

	m.killsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "kills_duplicate_total",
		Help:      "Total number of redelivered kill packages short-circuited as duplicates",
	})

	m.killsNPC = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "kills_npc_total",
		Help:      "Total number of NPC-only kills (persisted without fleet matching)",
	})

	m.packagesEmpty = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "packages_empty_total",
		Help:      "Total number of empty/heartbeat feed responses",
	})

	m.packagesRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "packages_rejected_total",
		Help:      "Total number of malformed feed packages rejected on ingestion",
	})

	m.resolverCacheHits = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "resolver_cache_hits_total",
			Help:      "Total number of resolver cache hits by entity kind",
		},
		[]string{"kind"},
	)

	m.resolverCacheMisses = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "resolver_cache_misses_total",
			Help:      "Total number of resolver cache misses by entity kind",
		},
		[]string{"kind"},
	)

	m.resolverErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "resolver_errors_total",
		Help:      "Total number of failed directory lookups",
	})

	m.resolverFallbacks = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "resolver_fallbacks_total",
		Help:      "Total number of celestial resolutions that needed the type-based fallback",
	})

	m.fleetsCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fleets_created_total",
		Help:      "Total number of new fleets created by the matcher",
	})

	m.fleetsExtended = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fleets_extended_total",
		Help:      "Total number of kills matched into an existing fleet",
	})

	m.fleetsExpired = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "fleets_expired_total",
		Help:      "Total number of fleets transitioned to inactive by the health sweep",
	})

	m.activeFleets = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_fleets",
		Help:      "Current number of active fleets",
	})

	m.jobRuns = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "job_runs_total",
			Help:      "Total number of scheduler job invocations by job name",
		},
		[]string{"job"},
	)

	m.jobFailures = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "job_failures_total",
			Help:      "Total number of failed scheduler job invocations by job name",
		},
		[]string{"job"},
	)

	m.jobDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "job_duration_seconds",
			Help:      "Scheduler job run duration in seconds by job name",
			Buckets:   m.histogramBuckets,
		},
		[]string{"job"},
	)

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the kill package queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Queue utilization ratio (current size / capacity)",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of packages enqueued",
	})

	m.queueEnqueueErrs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of enqueue errors",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of packages dequeued",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Current number of normalizer workers",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker processing errors",
	})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Normalization latency per kill package in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.notificationsPublished = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "notifications_published_total",
			Help:      "Total number of notifications published by type",
		},
		[]string{"type"},
	)

	m.notificationsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "notifications_dropped_total",
		Help:      "Total number of notifications dropped by slow subscribers",
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint, method and status",
		},
		[]string{"endpoint", "method", "status_code"},
	)
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Ingestion metrics.
func RecordKillIngested()    { globalManager.killsIngested.Inc() }
func RecordKillDuplicate()   { globalManager.killsDuplicate.Inc() }
func RecordKillNPC()         { globalManager.killsNPC.Inc() }
func RecordPackageEmpty()    { globalManager.packagesEmpty.Inc() }
func RecordPackageRejected() { globalManager.packagesRejected.Inc() }

// Resolver metrics.
func RecordResolverCacheHit(kind string)  { globalManager.resolverCacheHits.WithLabelValues(kind).Inc() }
func RecordResolverCacheMiss(kind string) { globalManager.resolverCacheMisses.WithLabelValues(kind).Inc() }
func RecordResolverError()                { globalManager.resolverErrors.Inc() }
func RecordResolverFallback()             { globalManager.resolverFallbacks.Inc() }

// Fleet metrics.
func RecordFleetCreated()         { globalManager.fleetsCreated.Inc() }
func RecordFleetExtended()        { globalManager.fleetsExtended.Inc() }
func RecordFleetExpired()         { globalManager.fleetsExpired.Inc() }
func UpdateActiveFleets(n int)    { globalManager.activeFleets.Set(float64(n)) }

// Job metrics.
func RecordJobRun(job string)     { globalManager.jobRuns.WithLabelValues(job).Inc() }
func RecordJobFailure(job string) { globalManager.jobFailures.WithLabelValues(job).Inc() }
func RecordJobDuration(job string, seconds float64) {
	globalManager.jobDuration.WithLabelValues(job).Observe(seconds)
}

// Queue metrics.
func UpdateQueueSize(size int)            { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)    { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateQueueUtilization(util float64) { globalManager.queueUtilization.Set(util) }
func RecordQueueEnqueue()                 { globalManager.queueEnqueues.Inc() }
func RecordQueueEnqueueError()            { globalManager.queueEnqueueErrs.Inc() }
func RecordQueueDequeue()                 { globalManager.queueDequeues.Inc() }

// Worker metrics.
func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }
func RecordWorkerError()      { globalManager.workerErrors.Inc() }
func RecordWorkerProcessingLatency(ms float64) {
	globalManager.workerLatency.Observe(ms)
}

// Notification metrics.
func RecordNotificationPublished(kind string) {
	globalManager.notificationsPublished.WithLabelValues(kind).Inc()
}
func RecordNotificationDropped() { globalManager.notificationsDropped.Inc() }

// HTTP metrics.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}
