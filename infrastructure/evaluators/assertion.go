package evaluators

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinigraph/verity/internal/domain"
)

// Observations is the complete evaluator output for one scenario run, the
// surface assertions resolve their observed values from. Nil entries mean
// the corresponding evaluator did not run; assertions against them still
// produce outcomes, failed with an unresolved reason.
type Observations struct {
	// Graph is the graph fidelity result, if the checker ran.
	Graph *domain.GraphFidelityResult

	// Reasoning holds one result per evaluated strategy.
	Reasoning map[domain.ReasoningStrategy]domain.ReasoningResult

	// Answer is the question-answer validation result, if the validator ran.
	Answer *domain.AnswerResult

	// Impacts holds one simulation result per evaluated change id.
	Impacts map[string]domain.ImpactResult
}

// AssertionEvaluator turns a scenario's declared assertions plus the run's
// observations into an outcome set.
//
// It never short-circuits: every declared assertion yields exactly one
// outcome, in declaration order, even when an upstream evaluator failed or
// an assertion is malformed. A malformed assertion (unknown kind or
// operator retained at load time) fails with its severity forced to error
// regardless of what the document declared.
type AssertionEvaluator struct {
	// name is the unique identifier for this evaluator instance.
	name string
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// NewAssertionEvaluator creates an assertion evaluator.
func NewAssertionEvaluator(name string) (*AssertionEvaluator, error) {
	if name == "" {
		return nil, ErrEmptyEvaluatorName
	}
	return &AssertionEvaluator{
		name:   name,
		tracer: otel.Tracer("assertion-evaluator"),
	}, nil
}

// Name returns the unique identifier for this evaluator instance.
func (ae *AssertionEvaluator) Name() string { return ae.name }

// Evaluate resolves and checks every assertion the scenario declares.
func (ae *AssertionEvaluator) Evaluate(ctx context.Context, scenario *domain.Scenario, obs Observations) domain.AssertionOutcomeSet {
	_, span := ae.tracer.Start(ctx, "AssertionEvaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("evaluator.id", ae.name),
			attribute.String("scenario.id", scenario.ID),
			attribute.Int("assertions.total", len(scenario.Assertions)),
		),
	)
	defer span.End()

	set := domain.AssertionOutcomeSet{
		ScenarioID: scenario.ID,
		Outcomes:   make([]domain.AssertionOutcome, 0, len(scenario.Assertions)),
	}

	for _, assertion := range scenario.Assertions {
		set.Outcomes = append(set.Outcomes, ae.evaluateOne(assertion, obs))
	}
	set.Summary = domain.Summarize(set.Outcomes)

	span.SetAttributes(
		attribute.Int("assertions.passed", set.Summary.Passed),
		attribute.Int("assertions.failed", set.Summary.Failed),
	)
	return set
}

// evaluateOne produces the outcome for a single assertion.
func (ae *AssertionEvaluator) evaluateOne(assertion domain.Assertion, obs Observations) domain.AssertionOutcome {
	outcome := domain.AssertionOutcome{
		AssertionID: assertion.ID,
		Kind:        assertion.Kind,
		Severity:    assertion.Severity,
	}

	if _, err := domain.ParseAssertionKind(string(assertion.Kind)); err != nil {
		outcome.Severity = domain.SeverityError
		outcome.Reason = fmt.Sprintf("malformed assertion: %v", err)
		return outcome
	}
	if _, err := domain.ParseCompareOp(string(assertion.Op)); err != nil {
		outcome.Severity = domain.SeverityError
		outcome.Reason = fmt.Sprintf("malformed assertion: %v", err)
		return outcome
	}

	observed, err := resolveObservation(assertion, obs)
	if err != nil {
		outcome.Reason = err.Error()
		return outcome
	}
	outcome.Resolved = true
	outcome.Observed = observed

	// For collection-backed metrics an existence check means non-empty; a
	// resolved count of zero is a present-but-empty collection.
	if assertion.Op == domain.OpExists && countBackedMetric(assertion) {
		outcome.Passed = observed > 0
		if !outcome.Passed {
			outcome.Reason = fmt.Sprintf("%s resolved to an empty collection", assertion.Target)
		}
		return outcome
	}

	outcome.Passed = assertion.Op.Compare(observed, assertion.Expected)
	if !outcome.Passed {
		outcome.Reason = fmt.Sprintf("observed %v %s %v does not hold",
			observed, assertion.Op, assertion.Expected)
	}
	return outcome
}

// countBackedMetric reports whether the assertion's target resolves to the
// size of a collection rather than a scalar score.
func countBackedMetric(assertion domain.Assertion) bool {
	metric := assertion.Target
	if i := strings.IndexByte(metric, '/'); i >= 0 {
		metric = metric[i+1:]
	}
	switch assertion.Kind {
	case domain.KindAnswer:
		return metric == "evidence_refs"
	case domain.KindImpact:
		return metric == "deltas" || metric == "affected_scenarios"
	default:
		return false
	}
}

// resolveObservation maps an assertion target onto the run's observations.
func resolveObservation(assertion domain.Assertion, obs Observations) (float64, error) {
	switch assertion.Kind {
	case domain.KindGraph:
		return resolveGraph(assertion.Target, obs.Graph)
	case domain.KindReasoning:
		return resolveReasoning(assertion.Target, obs.Reasoning)
	case domain.KindAnswer:
		return resolveAnswer(assertion.Target, obs.Answer)
	case domain.KindImpact:
		return resolveImpact(assertion.Target, obs.Impacts)
	default:
		return 0, fmt.Errorf("unresolvable assertion kind %q", assertion.Kind)
	}
}

func resolveGraph(target string, result *domain.GraphFidelityResult) (float64, error) {
	if result == nil {
		return 0, fmt.Errorf("no graph fidelity result to resolve %q against", target)
	}
	// A critical-layer failure is still a scored verdict (overall forced to
	// zero); every other failure means no fidelity was ever computed.
	if result.Failure != nil && result.Failure.Code != domain.FailureCriticalLayer {
		return 0, fmt.Errorf("graph fidelity was not scored (%s): %s",
			result.Failure.Code, result.Failure.Message)
	}

	switch target {
	case "overall":
		return result.Overall, nil
	case "consistency":
		return result.Consistency, nil
	case "latency_ms":
		return float64(result.LatencyMs), nil
	}

	layer, err := domain.ParseLayer(target)
	if err != nil {
		return 0, fmt.Errorf("unknown graph target %q", target)
	}
	for _, tr := range result.Transitions {
		if tr.Transition.To == layer {
			return tr.Accuracy, nil
		}
	}
	return 0, fmt.Errorf("no transition into layer %q was scored", target)
}

func resolveReasoning(target string, results map[domain.ReasoningStrategy]domain.ReasoningResult) (float64, error) {
	strategyName, metric := target, "accuracy"
	if i := strings.IndexByte(target, '/'); i >= 0 {
		strategyName, metric = target[:i], target[i+1:]
	}
	strategy, ok := domain.ParseReasoningStrategy(strategyName)
	if !ok {
		return 0, fmt.Errorf("unknown reasoning strategy %q", strategyName)
	}
	result, ran := results[strategy]
	if !ran {
		return 0, fmt.Errorf("strategy %q was not evaluated", strategy)
	}
	if result.Failure != nil {
		return 0, fmt.Errorf("strategy %q was not scored (%s): %s",
			strategy, result.Failure.Code, result.Failure.Message)
	}

	switch metric {
	case "accuracy":
		return result.Accuracy, nil
	case "confidence":
		return result.Confidence, nil
	case "symbolic_weight":
		return result.SymbolicWeight, nil
	case "latency_ms":
		return float64(result.LatencyMs), nil
	default:
		return 0, fmt.Errorf("unknown reasoning metric %q", metric)
	}
}

func resolveAnswer(target string, result *domain.AnswerResult) (float64, error) {
	if result == nil {
		return 0, fmt.Errorf("no answer result to resolve %q against", target)
	}
	if result.Failure != nil {
		return 0, fmt.Errorf("answer was not scored (%s): %s",
			result.Failure.Code, result.Failure.Message)
	}

	switch target {
	case "correctness":
		return result.Correctness, nil
	case "confidence":
		return result.Confidence, nil
	case "path_valid":
		return boolMetric(result.PathValid), nil
	case "miscalibrated":
		return boolMetric(result.Miscalibrated), nil
	case "evidence_refs":
		return float64(len(result.EvidenceRefs)), nil
	case "latency_ms":
		return float64(result.LatencyMs), nil
	default:
		return 0, fmt.Errorf("unknown answer metric %q", target)
	}
}

func resolveImpact(target string, results map[string]domain.ImpactResult) (float64, error) {
	changeID, metric := target, "impact_score"
	if i := strings.IndexByte(target, '/'); i >= 0 {
		changeID, metric = target[:i], target[i+1:]
	}
	result, ran := results[changeID]
	if !ran {
		return 0, fmt.Errorf("change %q was not simulated", changeID)
	}
	if result.State == domain.SimFailed {
		return 0, fmt.Errorf("simulation for change %q failed, no observation available", changeID)
	}

	switch metric {
	case "impact_score":
		return result.ImpactScore, nil
	case "safety_violations":
		return float64(result.SafetyViolations), nil
	case "affected_scenarios":
		return float64(result.AffectedScenarios), nil
	case "deltas":
		return float64(len(result.Deltas)), nil
	case "latency_ms":
		return float64(result.LatencyMs), nil
	default:
		return 0, fmt.Errorf("unknown impact metric %q", metric)
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
