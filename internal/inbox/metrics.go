package inbox

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/herald/internal/insight"
)

// Metrics holds Prometheus metrics for the alert pipeline.
type Metrics struct {
	ImportsTotal       *prometheus.CounterVec
	AlertsImported     *prometheus.CounterVec
	ScoresTotal        *prometheus.CounterVec
	DraftsTotal        *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	Alerts             prometheus.Gauge
	LLMTokensIn        prometheus.Counter
	LLMTokensOut       prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_imports_total",
			Help: "Total import requests by result.",
		}, []string{"result"}),
		AlertsImported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_alerts_imported_total",
			Help: "Total alerts added to the collection by import source.",
		}, []string{"source"}),
		ScoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_scores_total",
			Help: "Total resolved relevancy scores by outcome.",
		}, []string{"outcome"}),
		DraftsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_drafts_total",
			Help: "Total resolved drafts by outcome.",
		}, []string{"outcome"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_generation_duration_seconds",
			Help:    "Duration of generation service calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"op"}),
		Alerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_alerts",
			Help: "Alerts currently held in memory.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
	}

	reg.MustRegister(
		m.ImportsTotal,
		m.AlertsImported,
		m.ScoresTotal,
		m.DraftsTotal,
		m.GenerationDuration,
		m.Alerts,
		m.LLMTokensIn,
		m.LLMTokensOut,
	)

	return m
}

// GenerationHooks returns insight hooks that observe call outcomes and latency.
func (m *Metrics) GenerationHooks() insight.Hooks {
	return insight.Hooks{
		OnGenerate: func(op insight.Operation, outcome insight.Outcome, duration float64) {
			switch op {
			case insight.OpScoreRelevancy:
				m.ScoresTotal.WithLabelValues(string(outcome)).Inc()
			case insight.OpDraftResponse:
				m.DraftsTotal.WithLabelValues(string(outcome)).Inc()
			}
			if outcome != insight.OutcomeSkipped {
				m.GenerationDuration.WithLabelValues(string(op)).Observe(duration)
			}
		},
	}
}

// ObserveUsage adds token counts from one generation call.
func (m *Metrics) ObserveUsage(_ insight.Operation, inputTokens, outputTokens int64) {
	m.LLMTokensIn.Add(float64(inputTokens))
	m.LLMTokensOut.Add(float64(outputTokens))
}

func (m *Metrics) importResult(result string) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) imported(source string, n, total int) {
	if m == nil {
		return
	}
	m.AlertsImported.WithLabelValues(source).Add(float64(n))
	m.Alerts.Set(float64(total))
}

// unscored counts alerts resolved without a scoring call because the keyword set was empty.
func (m *Metrics) unscored(n int) {
	if m == nil {
		return
	}
	m.ScoresTotal.WithLabelValues("no_keywords").Add(float64(n))
}
