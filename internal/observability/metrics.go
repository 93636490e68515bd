package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ConversationEvents *prometheus.CounterVec
	Turns              *prometheus.CounterVec
	TurnErrors         *prometheus.CounterVec
	StageTransitions   *prometheus.CounterVec
	ClassifierGates    *prometheus.CounterVec
	LLMLatency         *prometheus.HistogramVec
	DeliveryMessages   *prometheus.CounterVec

	turnSteps *turnStepWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConversationEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation lifecycle events by type (created, reused, expired).",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"outcome"}),
		TurnErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_errors_total",
			Help:      "Turn failures by taxonomy kind (generation, persistence).",
		}, []string{"kind"}),
		StageTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Interview stage transitions by target stage.",
		}, []string{"to_stage"}),
		ClassifierGates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_gate_results_total",
			Help:      "Completion gate results by stage, gate and result.",
		}, []string{"stage", "gate", "result"}),
		LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_ms",
			Help:      "LLM request latency in milliseconds by purpose.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}, []string{"purpose"}),
		DeliveryMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_messages_total",
			Help:      "Outbound delivery attempts by result.",
		}, []string{"result"}),
		turnSteps: newTurnStepWindow(256),
	}
}

// ObserveLLMLatency records one LLM round trip for the given purpose
// (classifier or generation).
func (m *Metrics) ObserveLLMLatency(purpose string, d time.Duration) {
	m.LLMLatency.WithLabelValues(purpose).Observe(float64(d.Milliseconds()))
}

// ObserveTurnStep feeds the rolling per-step latency window backing the
// perf endpoint.
func (m *Metrics) ObserveTurnStep(step string, d time.Duration) {
	m.turnSteps.Observe(step, float64(d.Milliseconds()))
}

// ObserveTurnIndicator counts a named event in the rolling window snapshot.
func (m *Metrics) ObserveTurnIndicator(name string) {
	m.turnSteps.ObserveIndicator(name)
}

// TurnStepSnapshot returns the rolling latency stats for debug surfaces.
func (m *Metrics) TurnStepSnapshot() TurnStepSnapshotData {
	return m.turnSteps.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
