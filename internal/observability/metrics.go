package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// Tracks the resilience fabric (tool calls, breaker state, cache hit rate),
// the workflow engine, and the HTTP/WebSocket surfaces. All metrics register
// with the default Prometheus registry and are exposed at /metrics.
type Metrics struct {
	// ToolCallCounter counts remote tool invocations.
	// Labels: tool_name, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures remote tool latency in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// BreakerState reports each circuit breaker's state.
	// Labels: name; value 0=closed, 1=half-open, 2=open
	BreakerState *prometheus.GaugeVec

	// BreakerTransitions counts breaker state changes.
	// Labels: name, to (closed|half-open|open)
	BreakerTransitions *prometheus.CounterVec

	// CacheRequests counts cache lookups.
	// Labels: outcome (hit|miss)
	CacheRequests *prometheus.CounterVec

	// WorkflowExecutions counts finished executions.
	// Labels: status (completed|failed)
	WorkflowExecutions *prometheus.CounterVec

	// WorkflowDuration measures execution wall-clock time in seconds.
	// Labels: mode (sequential|parallel)
	WorkflowDuration *prometheus.HistogramVec

	// AlertsTriggered counts fired price alerts.
	AlertsTriggered prometheus.Counter

	// ActiveConnections is the live WebSocket connection count.
	ActiveConnections prometheus.Gauge

	// BroadcastsDelivered counts price updates delivered to connections.
	BroadcastsDelivered prometheus.Counter

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Call once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_tool_calls_total",
				Help: "Total number of remote tool invocations by tool and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockd_tool_call_duration_seconds",
				Help:    "Duration of remote tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stockd_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),

		BreakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_breaker_transitions_total",
				Help: "Total circuit breaker state transitions by target state",
			},
			[]string{"name", "to"},
		),

		CacheRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_cache_requests_total",
				Help: "Total cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		WorkflowExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_workflow_executions_total",
				Help: "Total finished workflow executions by terminal status",
			},
			[]string{"status"},
		),

		WorkflowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockd_workflow_duration_seconds",
				Help:    "Workflow execution wall-clock duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"mode"},
		),

		AlertsTriggered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stockd_alerts_triggered_total",
				Help: "Total price alerts fired",
			},
		),

		ActiveConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockd_ws_connections",
				Help: "Current live WebSocket connections",
			},
		),

		BroadcastsDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stockd_broadcasts_delivered_total",
				Help: "Total price updates delivered to WebSocket connections",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockd_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_http_requests_total",
				Help: "Total HTTP requests by method, path, and status",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
