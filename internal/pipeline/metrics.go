package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/decision"
	"github.com/linnemanlabs/medic/internal/dispatch"
)

// Metrics holds Prometheus metrics for the alert pipeline.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	DecisionCallsTotal  *prometheus.CounterVec
	DecisionDuration    prometheus.Histogram
	DecisionTokensIn    prometheus.Counter
	DecisionTokensOut   prometheus.Counter
	ValidationFallbacks prometheus.Counter
	DispatchesTotal     *prometheus.CounterVec
	DispatchDuration    *prometheus.HistogramVec
	NotificationsTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_pipeline_runs_total",
			Help: "Total alert pipeline runs by final action and dispatch outcome.",
		}, []string{"action", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medic_pipeline_duration_seconds",
			Help:    "Duration of alert pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~102s
		}, []string{"outcome"}),
		DecisionCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_decision_calls_total",
			Help: "Total decision model calls by result.",
		}, []string{"result"}),
		DecisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medic_decision_duration_seconds",
			Help:    "Duration of decision model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}),
		DecisionTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medic_decision_tokens_input_total",
			Help: "Total input tokens consumed by decision calls.",
		}),
		DecisionTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medic_decision_tokens_output_total",
			Help: "Total output tokens consumed by decision calls.",
		}),
		ValidationFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medic_validation_fallbacks_total",
			Help: "Proposals replaced by notify because a required argument was missing.",
		}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_dispatches_total",
			Help: "Total dispatch attempts by action, status and mode.",
		}, []string{"action", "status", "mode"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medic_dispatch_duration_seconds",
			Help:    "Duration of dispatch attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"mode"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_notifications_total",
			Help: "Total human notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.DecisionCallsTotal,
		m.DecisionDuration,
		m.DecisionTokensIn,
		m.DecisionTokensOut,
		m.ValidationFallbacks,
		m.DispatchesTotal,
		m.DispatchDuration,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns pipeline Hooks that update the run-level metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnValidationFallback: func() {
			m.ValidationFallbacks.Inc()
		},
		OnNotify: func(result string) {
			m.NotificationsTotal.WithLabelValues(result).Inc()
		},
		OnComplete: func(e *CompleteEvent) {
			m.RunsTotal.WithLabelValues(actionLabel(e.Action), e.Outcome).Inc()
			m.RunDuration.WithLabelValues(e.Outcome).Observe(e.Duration)
		},
	}
}

// DecisionHooks returns decision.Hooks that update the model call metrics.
func (m *Metrics) DecisionHooks() decision.Hooks {
	return decision.Hooks{
		OnCall: func(result string, inputTokens, outputTokens int, duration float64) {
			m.DecisionCallsTotal.WithLabelValues(result).Inc()
			m.DecisionTokensIn.Add(float64(inputTokens))
			m.DecisionTokensOut.Add(float64(outputTokens))
			m.DecisionDuration.Observe(duration)
		},
	}
}

// DispatchHooks returns dispatch.Hooks that update the dispatch metrics.
func (m *Metrics) DispatchHooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnDispatch: func(name string, status dispatch.Status, mode dispatch.Mode, duration float64) {
			m.DispatchesTotal.WithLabelValues(actionLabel(name), string(status), string(mode)).Inc()
			m.DispatchDuration.WithLabelValues(string(mode)).Observe(duration)
		},
	}
}

// actionLabel keeps the action label bounded to the canonical action names.
func actionLabel(name string) string {
	if s, ok := action.Lookup(name); ok {
		return s.Name
	}
	return "unknown"
}
