// Package middleware provides cross-cutting concerns for the validation
// framework: Prometheus metrics and instrumented collaborator decorators.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clinigraph/verity/internal/domain"
)

// ValidationMetrics exposes the framework's Prometheus metrics: scenario
// throughput, assertion outcomes, evaluator latency, and collaborator
// failures.
type ValidationMetrics struct {
	scenariosTotal        *prometheus.CounterVec
	scenariosInFlight     prometheus.Gauge
	assertionOutcomes     *prometheus.CounterVec
	evaluatorLatency      *prometheus.HistogramVec
	collaboratorCalls     *prometheus.CounterVec
	collaboratorLatency   *prometheus.HistogramVec
	collaboratorFailures  *prometheus.CounterVec
	criticalLayerFailures prometheus.Counter
}

// NewValidationMetrics creates and registers the metric set against the
// given registerer. Passing nil registers against the default registry.
func NewValidationMetrics(reg prometheus.Registerer) *ValidationMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ValidationMetrics{
		scenariosTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_scenarios_total",
				Help: "Total validated scenarios by clinical domain and run status.",
			},
			[]string{"domain", "status"},
		),
		scenariosInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "verity_scenarios_in_flight",
				Help: "Scenarios currently being validated.",
			},
		),
		assertionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_assertion_outcomes_total",
				Help: "Evaluated assertion outcomes by kind and result.",
			},
			[]string{"kind", "result"},
		),
		evaluatorLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verity_evaluator_duration_seconds",
				Help:    "Wall-clock duration of evaluator runs.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"evaluator"},
		),
		collaboratorCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_collaborator_calls_total",
				Help: "Calls to external collaborators by collaborator and status.",
			},
			[]string{"collaborator", "status"},
		),
		collaboratorLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "verity_collaborator_duration_seconds",
				Help:    "Latency of external collaborator calls.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"collaborator"},
		),
		collaboratorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verity_collaborator_failures_total",
				Help: "Collaborator failures by collaborator and retryability.",
			},
			[]string{"collaborator", "retryable"},
		),
		criticalLayerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "verity_critical_layer_failures_total",
				Help: "Scenario runs where a layer transition scored zero.",
			},
		),
	}
}

// ScenarioStarted marks a scenario validation as in flight.
func (vm *ValidationMetrics) ScenarioStarted() {
	vm.scenariosInFlight.Inc()
}

// ScenarioFinished records a completed scenario run.
func (vm *ValidationMetrics) ScenarioFinished(clinicalDomain, status string) {
	vm.scenariosInFlight.Dec()
	vm.scenariosTotal.WithLabelValues(clinicalDomain, status).Inc()
}

// RecordOutcomes records one scenario's assertion outcome set.
func (vm *ValidationMetrics) RecordOutcomes(set domain.AssertionOutcomeSet) {
	for _, outcome := range set.Outcomes {
		result := "failed"
		if outcome.Passed {
			result = "passed"
		}
		vm.assertionOutcomes.WithLabelValues(string(outcome.Kind), result).Inc()
	}
}

// ObserveEvaluator records an evaluator's run duration.
func (vm *ValidationMetrics) ObserveEvaluator(evaluator string, duration time.Duration) {
	vm.evaluatorLatency.WithLabelValues(evaluator).Observe(duration.Seconds())
}

// ObserveCollaborator records one collaborator call.
func (vm *ValidationMetrics) ObserveCollaborator(collaborator string, duration time.Duration, err error, retryable bool) {
	vm.collaboratorLatency.WithLabelValues(collaborator).Observe(duration.Seconds())
	if err == nil {
		vm.collaboratorCalls.WithLabelValues(collaborator, "ok").Inc()
		return
	}
	vm.collaboratorCalls.WithLabelValues(collaborator, "error").Inc()
	vm.collaboratorFailures.WithLabelValues(collaborator, boolLabel(retryable)).Inc()
}

// RecordCriticalLayerFailure counts a zero-scoring layer transition run.
func (vm *ValidationMetrics) RecordCriticalLayerFailure() {
	vm.criticalLayerFailures.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
