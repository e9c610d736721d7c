package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics for the MCP core.
type Metrics struct {
	// Protocol metrics
	ProtocolState     prometheus.Gauge
	MessagesValidated *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	HandlerDuration   *prometheus.HistogramVec

	// Session metrics
	StateTransitions *prometheus.CounterVec
	TrackedStates    prometheus.Gauge

	// Persistence metrics
	PersistenceOps      *prometheus.CounterVec
	PersistenceDuration *prometheus.HistogramVec
	RecoveryPoints      *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ProtocolState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "squirrel",
				Subsystem: "protocol",
				Name:      "state",
				Help:      "Protocol state (0=uninitialized, 1=initializing, 2=initialized, 3=ready, 4=shutting_down, 5=error)",
			},
		),

		MessagesValidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "squirrel",
				Subsystem: "messages",
				Name:      "validated_total",
				Help:      "Total number of messages validated",
			},
			[]string{"type", "result"},
		),

		MessagesHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "squirrel",
				Subsystem: "messages",
				Name:      "handled_total",
				Help:      "Total number of messages dispatched to handlers",
			},
			[]string{"type", "status"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "squirrel",
				Subsystem: "messages",
				Name:      "handler_duration_seconds",
				Help:      "Handler dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "squirrel",
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Total number of session state transitions",
			},
			[]string{"from", "to", "result"},
		),

		TrackedStates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "squirrel",
				Subsystem: "session",
				Name:      "tracked_states",
				Help:      "Number of named states currently registered",
			},
		),

		PersistenceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "squirrel",
				Subsystem: "persistence",
				Name:      "operations_total",
				Help:      "Total number of persistence operations",
			},
			[]string{"operation", "status"},
		),

		PersistenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "squirrel",
				Subsystem: "persistence",
				Name:      "operation_duration_seconds",
				Help:      "Persistence operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RecoveryPoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "squirrel",
				Subsystem: "recovery",
				Name:      "points",
				Help:      "Number of recovery points held per state name",
			},
			[]string{"state"},
		),
	}
}

// collectors returns all metric collectors for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ProtocolState,
		m.MessagesValidated,
		m.MessagesHandled,
		m.HandlerDuration,
		m.StateTransitions,
		m.TrackedStates,
		m.PersistenceOps,
		m.PersistenceDuration,
		m.RecoveryPoints,
	}
}
