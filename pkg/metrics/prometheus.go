package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service. Every recording
// method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call Metrics
	callsInitiatedTotal *prometheus.CounterVec
	callsFinalizedTotal *prometheus.CounterVec
	callsActive         prometheus.Gauge
	callsDuration       *prometheus.HistogramVec
	ringTimeoutsTotal   prometheus.Counter

	// Delivery Metrics
	eventsTotal        *prometheus.CounterVec
	signalRelaysTotal  *prometheus.CounterVec
	callLogErrorsTotal *prometheus.CounterVec

	// Redis
	redisDegraded prometheus.Gauge
}

// NewMetrics creates the metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of live call WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket frames by type and direction",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),

		callsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_initiated_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
			[]string{"kind", "group"},
		),
		callsFinalizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_finalized_total",
				Help:        "Total number of call sessions finalized by outcome",
				ConstLabels: labels,
			},
			[]string{"kind", "outcome"},
		),
		callsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of non-terminal call sessions",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Answered call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"kind"},
		),
		ringTimeoutsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_ring_timeouts_total",
				Help:        "Total number of invitations that rang out unanswered",
				ConstLabels: labels,
			},
		),

		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_events_total",
				Help:        "Outbound call events by type and delivery result",
				ConstLabels: labels,
			},
			[]string{"type", "result"},
		),
		signalRelaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signal_relays_total",
				Help:        "Signaling relays by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		callLogErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_log_write_errors_total",
				Help:        "Call log entries that could not be persisted",
				ConstLabels: labels,
			},
			[]string{"backend"},
		),

		redisDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "redis_degraded_mode",
				Help:        "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the registry backing /metrics
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// SetWebSocketConnections sets the number of live WebSocket connections
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket frame; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordCallInitiated records a newly created session
func (m *Metrics) RecordCallInitiated(kind string, isGroup bool) {
	if m == nil {
		return
	}
	m.callsInitiatedTotal.WithLabelValues(kind, strconv.FormatBool(isGroup)).Inc()
}

// RecordCallFinalized records a session reaching its terminal status
func (m *Metrics) RecordCallFinalized(kind, outcome string, answeredFor time.Duration) {
	if m == nil {
		return
	}
	m.callsFinalizedTotal.WithLabelValues(kind, outcome).Inc()
	if answeredFor > 0 {
		m.callsDuration.WithLabelValues(kind).Observe(answeredFor.Seconds())
	}
}

// SetActiveCalls sets the number of non-terminal sessions
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(count))
}

// RecordRingTimeout records an invitation that was never answered
func (m *Metrics) RecordRingTimeout() {
	if m == nil {
		return
	}
	m.ringTimeoutsTotal.Inc()
}

// RecordEvent records an outbound event; result is "delivered" or "dropped"
func (m *Metrics) RecordEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordSignalRelay records a relay attempt by result
func (m *Metrics) RecordSignalRelay(result string) {
	if m == nil {
		return
	}
	m.signalRelaysTotal.WithLabelValues(result).Inc()
}

// RecordCallLogError records a failed call log write
func (m *Metrics) RecordCallLogError(backend string) {
	if m == nil {
		return
	}
	m.callLogErrorsTotal.WithLabelValues(backend).Inc()
}

// SetRedisDegraded flags Redis degraded mode
func (m *Metrics) SetRedisDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.redisDegraded.Set(1)
		return
	}
	m.redisDegraded.Set(0)
}
