package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "fraudchat"
	agentSubsystem   = "agent"
)

type Metrics struct {
	// TurnsTotal counts user turns.
	// Labels: status (committed, rolled_back)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures a whole turn, reasoning calls included.
	TurnDurationSeconds prometheus.Histogram

	// ToolCallsTotal counts dispatched tool invocations.
	// Labels: tool, status (ok, error, unknown)
	ToolCallsTotal *prometheus.CounterVec

	// ReasoningAttemptsTotal counts individual calls to the reasoning service.
	// Labels: outcome (ok, retryable, fatal)
	ReasoningAttemptsTotal *prometheus.CounterVec

	// ActiveSessions tracks open sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics registers the agent metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "turns_total",
				Help:      "Total user turns by status",
			},
			[]string{"status"},
		),

		TurnDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Duration of a user turn in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "tool_calls_total",
				Help:      "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ReasoningAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "reasoning_attempts_total",
				Help:      "Total reasoning service calls by outcome",
			},
			[]string{"outcome"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "active_sessions",
				Help:      "Number of open conversation sessions",
			},
		),
	}
}

func (m *Metrics) turn(status string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(status).Inc()
	m.TurnDurationSeconds.Observe(seconds)
}

func (m *Metrics) toolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.ReasoningAttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) sessions(delta float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(delta)
}
