// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/grepwise/grepwise/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Ingestion metrics
	RecordsIngestedTotal *prometheus.CounterVec
	BufferDroppedTotal   *prometheus.CounterVec
	BufferSize           prometheus.Gauge

	// Index / search metrics
	PartitionsActive     prometheus.Gauge
	SearchCacheHitTotal  *prometheus.CounterVec
	SearchDuration       *prometheus.HistogramVec

	// Alarm metrics
	AlarmsFiredTotal        *prometheus.CounterVec
	NotificationsSentTotal  *prometheus.CounterVec

	// Real-time broadcaster metrics
	RealtimeClientsConnected prometheus.Gauge
	RealtimeMessagesSent     *prometheus.CounterVec

	// Cluster metrics
	ShardReassignmentsTotal prometheus.Counter

	// Repository metrics
	RepositoryOpsTotal    *prometheus.CounterVec
	RepositoryOpDuration  *prometheus.HistogramVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Ingestion metrics
		RecordsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_records_ingested_total",
				Help: "Total number of log records accepted by a source driver",
			},
			[]string{"service", "source_type", "source_id"},
		),
		BufferDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_buffer_dropped_total",
				Help: "Total number of records dropped because a flush to the index failed",
			},
			[]string{"service"},
		),
		BufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grepwise_buffer_size",
				Help: "Current number of records queued in the log buffer",
			},
		),

		// Index / search metrics
		PartitionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grepwise_partitions_active",
				Help: "Current number of open index partitions",
			},
		),
		SearchCacheHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_search_cache_total",
				Help: "Total number of search cache lookups by outcome",
			},
			[]string{"service", "outcome"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grepwise_search_duration_seconds",
				Help:    "Query execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service"},
		),

		// Alarm metrics
		AlarmsFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_alarms_fired_total",
				Help: "Total number of alarm evaluations that crossed their threshold",
			},
			[]string{"service", "alarm_id"},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_notifications_sent_total",
				Help: "Total number of notification transport sends by outcome",
			},
			[]string{"service", "transport", "status"},
		),

		// Real-time broadcaster metrics
		RealtimeClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grepwise_realtime_clients_connected",
				Help: "Current number of connected real-time websocket clients",
			},
		),
		RealtimeMessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_realtime_messages_sent_total",
				Help: "Total number of real-time broadcast messages sent by outcome",
			},
			[]string{"service", "status"},
		),

		// Cluster metrics
		ShardReassignmentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grepwise_shard_reassignments_total",
				Help: "Total number of times the coordinator recomputed source shard ownership",
			},
		),

		// Repository metrics
		RepositoryOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grepwise_repository_ops_total",
				Help: "Total number of Repository<T> operations by status",
			},
			[]string{"service", "operation", "status"},
		),
		RepositoryOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grepwise_repository_op_duration_seconds",
				Help:    "Repository<T> operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.RecordsIngestedTotal,
			m.BufferDroppedTotal,
			m.BufferSize,
			m.PartitionsActive,
			m.SearchCacheHitTotal,
			m.SearchDuration,
			m.AlarmsFiredTotal,
			m.NotificationsSentTotal,
			m.RealtimeClientsConnected,
			m.RealtimeMessagesSent,
			m.ShardReassignmentsTotal,
			m.RepositoryOpsTotal,
			m.RepositoryOpDuration,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordIngest records one accepted record from a source driver.
func (m *Metrics) RecordIngest(service, sourceType, sourceID string) {
	m.RecordsIngestedTotal.WithLabelValues(service, sourceType, sourceID).Inc()
}

// RecordBufferDrop records a batch dropped by the Log Buffer after a
// failed flush to the Index Engine.
func (m *Metrics) RecordBufferDrop(service string, count int) {
	m.BufferDroppedTotal.WithLabelValues(service).Add(float64(count))
}

// SetBufferSize sets the current queued-record count in the Log Buffer.
func (m *Metrics) SetBufferSize(size int) {
	m.BufferSize.Set(float64(size))
}

// SetPartitionsActive sets the current number of open index partitions.
func (m *Metrics) SetPartitionsActive(count int) {
	m.PartitionsActive.Set(float64(count))
}

// RecordSearchCacheOutcome records a Search Cache lookup ("hit" or "miss").
func (m *Metrics) RecordSearchCacheOutcome(service, outcome string) {
	m.SearchCacheHitTotal.WithLabelValues(service, outcome).Inc()
}

// RecordSearch records one query execution's duration.
func (m *Metrics) RecordSearch(service string, duration time.Duration) {
	m.SearchDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordAlarmFired records one alarm evaluation crossing its threshold.
func (m *Metrics) RecordAlarmFired(service, alarmID string) {
	m.AlarmsFiredTotal.WithLabelValues(service, alarmID).Inc()
}

// RecordNotificationSent records one notification transport send.
func (m *Metrics) RecordNotificationSent(service, transport, status string) {
	m.NotificationsSentTotal.WithLabelValues(service, transport, status).Inc()
}

// SetRealtimeClientsConnected sets the current connected websocket client count.
func (m *Metrics) SetRealtimeClientsConnected(count int) {
	m.RealtimeClientsConnected.Set(float64(count))
}

// RecordRealtimeMessageSent records one broadcast attempt to a connected client.
func (m *Metrics) RecordRealtimeMessageSent(service, status string) {
	m.RealtimeMessagesSent.WithLabelValues(service, status).Inc()
}

// RecordShardReassignment records one coordinator-triggered shard
// ownership recomputation.
func (m *Metrics) RecordShardReassignment() {
	m.ShardReassignmentsTotal.Inc()
}

// RecordRepositoryOp records a Repository<T> call.
func (m *Metrics) RecordRepositoryOp(service, operation, status string, duration time.Duration) {
	m.RepositoryOpsTotal.WithLabelValues(service, operation, status).Inc()
	m.RepositoryOpDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
