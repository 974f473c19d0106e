package intake

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/intake/internal/triage"
)

// Hooks are optional callbacks the Service fires for instrumentation. Any
// field may be nil.
type Hooks struct {
	OnPrediction      func(p *triage.Prediction, duration float64, persisted bool)
	OnAssess          func(result string)
	OnQueueEntry      func(e *QueueEntry)
	OnQueueTransition func(dept triage.Department, status QueueStatus)
	OnLLMCall         func(inputTokens, outputTokens int, duration float64, err error)
	OnNotify          func(notifier string, err error)
}

// Metrics holds Prometheus metrics for the intake subsystem.
type Metrics struct {
	PredictionsTotal     *prometheus.CounterVec
	PredictionDuration   prometheus.Histogram
	RiskScore            prometheus.Histogram
	SafetyOverrides      prometheus.Counter
	ReviewRecommended    prometheus.Counter
	AssessTotal          *prometheus.CounterVec
	QueueEntriesTotal    *prometheus.CounterVec
	QueueTransitionTotal *prometheus.CounterVec
	LLMCallsTotal        *prometheus.CounterVec
	LLMTokensIn          prometheus.Counter
	LLMTokensOut         prometheus.Counter
	LLMDuration          prometheus.Histogram
	NotificationsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns intake metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_predictions_total",
			Help: "Total engine predictions by risk level, primary department and whether they were persisted.",
		}, []string{"risk_level", "primary_department", "persisted"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_prediction_duration_seconds",
			Help:    "Duration of engine predictions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us .. ~160ms
		}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_risk_score",
			Help:    "Distribution of final risk scores.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 .. 1.0
		}),
		SafetyOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_safety_overrides_total",
			Help: "Predictions where at least one safety override fired.",
		}),
		ReviewRecommended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_review_recommended_total",
			Help: "Predictions flagged for human review.",
		}),
		AssessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_assess_total",
			Help: "Total visit assessments by result.",
		}, []string{"result"}),
		QueueEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_queue_entries_total",
			Help: "Queue entries created by department and fallback flag.",
		}, []string{"department", "fallback"}),
		QueueTransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_queue_transitions_total",
			Help: "Queue status changes by department and new status.",
		}, []string{"department", "status"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_llm_calls_total",
			Help: "Total LLM provider calls by status.",
		}, []string{"status"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_notifications_total",
			Help: "Notifier deliveries by notifier and status.",
		}, []string{"notifier", "status"}),
	}

	reg.MustRegister(
		m.PredictionsTotal,
		m.PredictionDuration,
		m.RiskScore,
		m.SafetyOverrides,
		m.ReviewRecommended,
		m.AssessTotal,
		m.QueueEntriesTotal,
		m.QueueTransitionTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.NotificationsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnPrediction: func(p *triage.Prediction, duration float64, persisted bool) {
			m.PredictionsTotal.WithLabelValues(string(p.RiskLevel), string(p.PrimaryDepartment), strconv.FormatBool(persisted)).Inc()
			m.PredictionDuration.Observe(duration)
			m.RiskScore.Observe(p.RiskScore)
			if p.Confidence.HasCriticalIndicators {
				m.SafetyOverrides.Inc()
			}
			if p.Confidence.ReviewRecommended {
				m.ReviewRecommended.Inc()
			}
		},
		OnAssess: func(result string) {
			m.AssessTotal.WithLabelValues(result).Inc()
		},
		OnQueueEntry: func(e *QueueEntry) {
			m.QueueEntriesTotal.WithLabelValues(string(e.Department), strconv.FormatBool(e.Fallback)).Inc()
		},
		OnQueueTransition: func(dept triage.Department, status QueueStatus) {
			m.QueueTransitionTotal.WithLabelValues(string(dept), string(status)).Inc()
		},
		OnLLMCall: func(inputTokens, outputTokens int, duration float64, err error) {
			m.LLMCallsTotal.WithLabelValues(statusLabel(err)).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnNotify: func(notifier string, err error) {
			m.NotificationsTotal.WithLabelValues(notifier, statusLabel(err)).Inc()
		},
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
