package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for EngineMetrics.RecordRequest.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusInvalid  = "invalid"
	StatusError    = "error"
)

// EngineMetrics holds every metric family the engine emits.
type EngineMetrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	DegradedTotal        *prometheus.CounterVec
	SnapshotVersion      *prometheus.GaugeVec
	SnapshotIncidents    *prometheus.GaugeVec
	SnapshotRefreshTotal *prometheus.CounterVec
	SnapshotRejected     *prometheus.CounterVec
	EventsPublishedTotal *prometheus.CounterVec
	CacheRequestsTotal   *prometheus.CounterVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	IngestTotal          *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metric families on c.
func NewEngineMetrics(c *Collector) *EngineMetrics {
	return &EngineMetrics{
		RequestsTotal: c.Counter("engine_requests_total",
			"Engine operations by outcome.", "engine", "operation", "status"),
		RequestDuration: c.Histogram("engine_request_duration_seconds",
			"Engine operation latency.", nil, "engine", "operation"),
		DegradedTotal: c.Counter("engine_degraded_total",
			"Operations that returned a degraded result.", "engine", "operation", "reason"),
		SnapshotVersion: c.Gauge("snapshot_version",
			"Version of the currently published reference snapshot.", "engine"),
		SnapshotIncidents: c.Gauge("snapshot_incidents",
			"Incidents held by the current snapshot.", "engine"),
		SnapshotRefreshTotal: c.Counter("snapshot_refresh_total",
			"Snapshot refresh attempts by result.", "engine", "result"),
		SnapshotRejected: c.Counter("snapshot_rejected_rows_total",
			"Reference rows left out of a snapshot because they failed validation.", "engine", "kind"),
		EventsPublishedTotal: c.Counter("events_published_total",
			"Domain events handed to the publisher by result.", "event_type", "result"),
		CacheRequestsTotal: c.Counter("cache_requests_total",
			"Result cache lookups by outcome.", "engine", "operation", "outcome"),
		HTTPRequestsTotal: c.Counter("http_requests_total",
			"HTTP requests by route and status code.", "method", "route", "code"),
		HTTPRequestDuration: c.Histogram("http_request_duration_seconds",
			"HTTP request latency.", nil, "method", "route"),
		IngestTotal: c.Counter("ingest_messages_total",
			"Ingest messages consumed by result.", "result"),
	}
}

// RecordRequest records one engine operation.
func (m *EngineMetrics) RecordRequest(engine, operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(engine, operation, status).Inc()
	m.RequestDuration.WithLabelValues(engine, operation).Observe(d.Seconds())
}

// RecordDegraded counts a degraded result.
func (m *EngineMetrics) RecordDegraded(engine, operation, reason string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(engine, operation, reason).Inc()
}

// RecordSnapshot records a refresh outcome and, on success, the new version.
func (m *EngineMetrics) RecordSnapshot(engine string, version int64, incidents int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SnapshotRefreshTotal.WithLabelValues(engine, "failure").Inc()
		return
	}
	m.SnapshotRefreshTotal.WithLabelValues(engine, "success").Inc()
	m.SnapshotVersion.WithLabelValues(engine).Set(float64(version))
	m.SnapshotIncidents.WithLabelValues(engine).Set(float64(incidents))
}

// RecordSnapshotRejected counts n rejected reference rows of one kind.
func (m *EngineMetrics) RecordSnapshotRejected(engine, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SnapshotRejected.WithLabelValues(engine, kind).Add(float64(n))
}

// RecordEvent counts a publish attempt.
func (m *EngineMetrics) RecordEvent(eventType string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}

// RecordCache counts a result-cache lookup by outcome (hit, miss, skip, error).
func (m *EngineMetrics) RecordCache(engine, operation, outcome string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(engine, operation, outcome).Inc()
}

// RecordHTTP records one served HTTP request.
func (m *EngineMetrics) RecordHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordIngest counts a consumed ingest message; result is accepted,
// rejected or failed.
func (m *EngineMetrics) RecordIngest(result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(result).Inc()
}
