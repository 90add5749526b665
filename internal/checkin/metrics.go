package checkin

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks fired by the check-in components. Nil fields are skipped.
type Hooks struct {
	OnLLMCall     func(model, outcome string, duration float64, usage Usage)
	OnClassified  func(outcome string)
	OnEvent       func(kind EventKind, outcome string)
	OnAlert       func(tier RecipientTier, outcome string)
	OnCheckInCall func(outcome string)
	OnFloodCheck  func(outcome string)
}

func (h Hooks) llmCall(model, outcome string, duration float64, usage Usage) {
	if h.OnLLMCall != nil {
		h.OnLLMCall(model, outcome, duration, usage)
	}
}

func (h Hooks) classified(outcome string) {
	if h.OnClassified != nil {
		h.OnClassified(outcome)
	}
}

func (h Hooks) event(kind EventKind, outcome string) {
	if h.OnEvent != nil {
		h.OnEvent(kind, outcome)
	}
}

func (h Hooks) alert(tier RecipientTier, outcome string) {
	if h.OnAlert != nil {
		h.OnAlert(tier, outcome)
	}
}

func (h Hooks) checkInCall(outcome string) {
	if h.OnCheckInCall != nil {
		h.OnCheckInCall(outcome)
	}
}

func (h Hooks) floodCheck(outcome string) {
	if h.OnFloodCheck != nil {
		h.OnFloodCheck(outcome)
	}
}

// Metrics holds Prometheus metrics for the check-in pipeline.
type Metrics struct {
	LLMCallsTotal     *prometheus.CounterVec
	LLMDuration       *prometheus.HistogramVec
	LLMTokensIn       prometheus.Counter
	LLMTokensOut      prometheus.Counter
	ClassifiedTotal   *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	CheckInCallsTotal *prometheus.CounterVec
	FloodChecksTotal  *prometheus.CounterVec
}

// NewMetrics registers and returns check-in metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_llm_calls_total",
			Help: "Total LLM provider calls by model and outcome.",
		}, []string{"model", "outcome"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floodvoice_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}, []string{"model"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodvoice_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floodvoice_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		ClassifiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_classifications_total",
			Help: "Call classifications by outcome.",
		}, []string{"outcome"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_webhook_events_total",
			Help: "Voice platform webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_alerts_total",
			Help: "Distress alert dispatches by recipient tier and outcome.",
		}, []string{"tier", "outcome"}),
		CheckInCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_checkin_calls_total",
			Help: "Outbound check-in calls by outcome.",
		}, []string{"outcome"}),
		FloodChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floodvoice_flood_checks_total",
			Help: "Flood sensor checks by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.LLMCallsTotal,
		m.LLMDuration,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.ClassifiedTotal,
		m.EventsTotal,
		m.AlertsTotal,
		m.CheckInCallsTotal,
		m.FloodChecksTotal,
	)

	return m
}

// Hooks returns Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnLLMCall: func(model, outcome string, duration float64, usage Usage) {
			m.LLMCallsTotal.WithLabelValues(model, outcome).Inc()
			m.LLMDuration.WithLabelValues(model).Observe(duration)
			m.LLMTokensIn.Add(float64(usage.InputTokens))
			m.LLMTokensOut.Add(float64(usage.OutputTokens))
		},
		OnClassified: func(outcome string) {
			m.ClassifiedTotal.WithLabelValues(outcome).Inc()
		},
		OnEvent: func(kind EventKind, outcome string) {
			m.EventsTotal.WithLabelValues(string(kind), outcome).Inc()
		},
		OnAlert: func(tier RecipientTier, outcome string) {
			m.AlertsTotal.WithLabelValues(string(tier), outcome).Inc()
		},
		OnCheckInCall: func(outcome string) {
			m.CheckInCallsTotal.WithLabelValues(outcome).Inc()
		},
		OnFloodCheck: func(outcome string) {
			m.FloodChecksTotal.WithLabelValues(outcome).Inc()
		},
	}
}
