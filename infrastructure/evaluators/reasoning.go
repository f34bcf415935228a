package evaluators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// Hybrid weighting constants. The symbolic weight is an affine function of
// the scenario's rule-coverage fraction: w = floor + slope * coverage.
// The function is monotonic in coverage and bounded to [floor, floor+slope]
// ⊂ [0,1]. The floor keeps similarity evidence contributing even for fully
// rule-covered scenarios being near-dominated by rules, and guideline-
// derived logic (coverage 1.0) lands at 0.85, well above the 0.7 bar for
// symbolic dominance.
const (
	hybridWeightFloor = 0.15
	hybridWeightSlope = 0.70
)

// ReasoningEvaluator exercises the symbolic, neural, and hybrid reasoning
// strategies against a scenario and scores correctness and confidence.
//
// Symbolic reasoning is self-contained: it executes the scenario's declared
// rule chain against its declared facts and needs no collaborator, so it
// still runs when the reasoning provider is down. Neural and hybrid depend
// on the external embedding provider and report a retryable
// reasoning-provider-unavailable failure when it cannot be reached.
type ReasoningEvaluator struct {
	// name is the unique identifier for this evaluator instance.
	name string
	// config contains the validated configuration parameters.
	config ReasoningConfig
	// provider is the external embedding/reasoning collaborator.
	provider ports.ReasoningProvider
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// ReasoningConfig controls concept matching and call budgets.
type ReasoningConfig struct {
	// TopK is the number of concept matches requested from the provider.
	TopK int `yaml:"top_k" json:"top_k" validate:"min=1,max=100"`

	// CallTimeout bounds each provider call. On timeout the result is
	// flagged timed-out rather than failing the run.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" validate:"min=0"`
}

// DefaultReasoningConfig returns production defaults: top-5 concept
// matching with a 250ms provider budget.
func DefaultReasoningConfig() ReasoningConfig {
	return ReasoningConfig{
		TopK:        5,
		CallTimeout: 250 * time.Millisecond,
	}
}

// NewReasoningEvaluator creates an evaluator over the given provider.
// The provider may only be nil when exclusively symbolic evaluation is
// needed; neural and hybrid calls against a nil provider report a
// provider-unavailable failure.
func NewReasoningEvaluator(name string, config ReasoningConfig, provider ports.ReasoningProvider) (*ReasoningEvaluator, error) {
	if name == "" {
		return nil, ErrEmptyEvaluatorName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &ReasoningEvaluator{
		name:     name,
		config:   config,
		provider: provider,
		tracer:   otel.Tracer("reasoning-evaluator"),
	}, nil
}

// Name returns the unique identifier for this evaluator instance.
func (re *ReasoningEvaluator) Name() string { return re.name }

// Symbolic executes the scenario's declared rule chain against its
// declared facts. Accuracy is the fraction of rules that fired as the
// scenario expected. Accuracy targets belong to scenario assertions; the
// evaluator only reports the actual score.
func (re *ReasoningEvaluator) Symbolic(ctx context.Context, scenario *domain.Scenario) domain.ReasoningResult {
	_, span := re.tracer.Start(ctx, "ReasoningEvaluator.Symbolic",
		trace.WithAttributes(
			attribute.String("evaluator.id", re.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	start := time.Now()
	result := domain.ReasoningResult{
		ScenarioID: scenario.ID,
		Strategy:   domain.StrategySymbolic,
		// Rule firing is deterministic; confidence is always full.
		Confidence: 1.0,
	}

	if len(scenario.Rules) == 0 {
		err := fmt.Errorf("%w: no rules declared for symbolic reasoning", domain.ErrInvalidScenario)
		span.RecordError(err)
		result.Confidence = 0
		result.Failure = domain.NewFailure(domain.FailureInvalidScenario, err.Error())
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	correct := 0
	for _, rule := range scenario.Rules {
		fired := rule.Fires(scenario.Facts)
		if fired == rule.ExpectFire {
			correct++
		}
		if fired {
			result.Path = append(result.Path, "rule-fired:"+rule.ID)
		} else {
			result.Path = append(result.Path, "rule-skipped:"+rule.ID)
		}
	}
	result.Accuracy = float64(correct) / float64(len(scenario.Rules))
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Float64("eval.accuracy", result.Accuracy),
		attribute.Int("eval.rules", len(scenario.Rules)),
	)
	return result
}

// Neural matches the scenario's query against the knowledge-graph concept
// embeddings. Accuracy is the fraction of the scenario's expected concepts
// found among the top-k matches; confidence is the top match's similarity.
func (re *ReasoningEvaluator) Neural(ctx context.Context, scenario *domain.Scenario) domain.ReasoningResult {
	ctx, span := re.tracer.Start(ctx, "ReasoningEvaluator.Neural",
		trace.WithAttributes(
			attribute.String("evaluator.id", re.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	start := time.Now()
	result := domain.ReasoningResult{
		ScenarioID: scenario.ID,
		Strategy:   domain.StrategyNeural,
	}

	matches, timedOut, err := re.matchConcepts(ctx, scenario.Query)
	result.TimedOut = timedOut
	if err != nil {
		span.RecordError(err)
		result.Failure = domain.NewFailure(domain.FailureReasoningProviderUnavailable, err.Error())
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	re.scoreMatches(&result, scenario, matches)
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Float64("eval.accuracy", result.Accuracy),
		attribute.Float64("eval.confidence", result.Confidence),
		attribute.Int("eval.matches", len(matches)),
	)
	return result
}

// Hybrid runs both reasoning paths and combines their scores with a
// symbolic weight derived from the scenario's rule-coverage fraction.
// Guideline-derived clinical logic should be dominated by traceable rules
// while open-ended similarity queries lean on the neural path; the weight
// function encodes exactly that trade-off.
func (re *ReasoningEvaluator) Hybrid(ctx context.Context, scenario *domain.Scenario) domain.ReasoningResult {
	ctx, span := re.tracer.Start(ctx, "ReasoningEvaluator.Hybrid",
		trace.WithAttributes(
			attribute.String("evaluator.id", re.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	start := time.Now()
	result := domain.ReasoningResult{
		ScenarioID: scenario.ID,
		Strategy:   domain.StrategyHybrid,
	}

	symbolic := re.Symbolic(ctx, scenario)
	neural := re.Neural(ctx, scenario)
	result.TimedOut = neural.TimedOut

	// The hybrid strategy needs the similarity path; provider outage
	// fails hybrid even though symbolic alone could still be reported.
	if neural.Failure != nil && neural.Failure.Code == domain.FailureReasoningProviderUnavailable {
		span.RecordError(errors.New(neural.Failure.Message))
		result.Failure = neural.Failure
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	weight := SymbolicWeight(scenario.RuleCoverage())
	result.SymbolicWeight = weight
	result.Accuracy = weight*symbolic.Accuracy + (1-weight)*neural.Accuracy
	result.Confidence = weight*symbolic.Confidence + (1-weight)*neural.Confidence
	result.Path = append(append([]string{}, symbolic.Path...), neural.Path...)
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Float64("eval.accuracy", result.Accuracy),
		attribute.Float64("eval.symbolic_weight", weight),
	)
	return result
}

// SymbolicWeight maps a rule-coverage fraction to the hybrid symbolic
// weight. It is monotonic in coverage and bounded to [0,1]; coverage is
// clamped before the affine map so malformed inputs cannot escape the bound.
func SymbolicWeight(coverage float64) float64 {
	if coverage < 0 {
		coverage = 0
	}
	if coverage > 1 {
		coverage = 1
	}
	return hybridWeightFloor + hybridWeightSlope*coverage
}

// matchConcepts calls the provider under the configured budget.
// The bool return reports a timeout, which degrades rather than fails.
func (re *ReasoningEvaluator) matchConcepts(ctx context.Context, query string) ([]ports.ConceptMatch, bool, error) {
	if re.provider == nil {
		return nil, false, fmt.Errorf("reasoning provider not configured: %w", ports.ErrServiceUnavailable)
	}

	callCtx := ctx
	if re.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, re.config.CallTimeout)
		defer cancel()
	}

	matches, err := re.provider.MatchConcepts(callCtx, query, re.config.TopK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrTimeout) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("concept matching failed: %w", err)
	}
	return matches, false, nil
}

// scoreMatches derives accuracy and confidence from the provider matches.
func (re *ReasoningEvaluator) scoreMatches(result *domain.ReasoningResult, scenario *domain.Scenario, matches []ports.ConceptMatch) {
	matched := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		matched[m.ConceptID] = struct{}{}
		result.Path = append(result.Path, "concept:"+m.ConceptID)
	}

	if len(scenario.ExpectedConcepts) > 0 {
		hits := 0
		for _, want := range scenario.ExpectedConcepts {
			if _, ok := matched[want]; ok {
				hits++
			}
		}
		result.Accuracy = float64(hits) / float64(len(scenario.ExpectedConcepts))
	}

	if len(matches) > 0 {
		result.Confidence = matches[0].Similarity
	}
}
