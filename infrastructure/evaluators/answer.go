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

// Confidence calibration bounds. An answer with every required phrase
// present but confidence below the lower bound, or a deficient answer
// above the upper bound, is flagged miscalibrated. Miscalibration is a
// distinct signal from incorrectness and never alters the correctness
// score itself.
const (
	calibrationLowerBound = 0.5
	calibrationUpperBound = 0.8
)

// AnswerValidator scores generated clinical answers against a scenario's
// declared expectations: required-phrase coverage, evidence-reference
// resolution, reasoning-path validity, and confidence calibration.
//
// Evidence references that do not resolve to a declared source are a hard
// failure regardless of how good the answer text is; an unverifiable
// citation in a clinical answer is worse than no citation.
type AnswerValidator struct {
	// name is the unique identifier for this validator instance.
	name string
	// config contains the validated configuration parameters.
	config AnswerConfig
	// provider generates candidate answers.
	provider ports.AnswerProvider
	// matcher decides whether an answer contains a required phrase.
	matcher ports.ContentMatcher
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// AnswerConfig controls the answer-generation call budget.
type AnswerConfig struct {
	// CallTimeout bounds each answer-generation call. On timeout the
	// result is flagged timed-out and scored against the empty answer.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" validate:"min=0"`
}

// DefaultAnswerConfig returns the production default: a 500ms generation
// budget, the longest collaborator budget of the evaluators since answer
// generation dominates wall-clock latency.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{CallTimeout: 500 * time.Millisecond}
}

// NewAnswerValidator creates a validator over the given provider and
// phrase matcher.
func NewAnswerValidator(name string, config AnswerConfig, provider ports.AnswerProvider, matcher ports.ContentMatcher) (*AnswerValidator, error) {
	if name == "" {
		return nil, ErrEmptyEvaluatorName
	}
	if provider == nil || matcher == nil {
		return nil, ErrNilCollaborator
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &AnswerValidator{
		name:     name,
		config:   config,
		provider: provider,
		matcher:  matcher,
		tracer:   otel.Tracer("answer-validator"),
	}, nil
}

// Name returns the unique identifier for this validator instance.
func (av *AnswerValidator) Name() string { return av.name }

// Validate generates an answer for the question and scores it against the
// scenario's declared expectations. Generation latency is recorded for
// reporting but never drives pass/fail on its own.
func (av *AnswerValidator) Validate(ctx context.Context, scenario *domain.Scenario, question string) domain.AnswerResult {
	ctx, span := av.tracer.Start(ctx, "AnswerValidator.Validate",
		trace.WithAttributes(
			attribute.String("evaluator.id", av.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	start := time.Now()
	result := domain.AnswerResult{
		ScenarioID: scenario.ID,
		Question:   question,
	}

	answer, timedOut, err := av.generate(ctx, scenario, question)
	result.LatencyMs = time.Since(start).Milliseconds()
	result.TimedOut = timedOut
	if err != nil {
		span.RecordError(err)
		result.Failure = domain.NewFailure(domain.FailureAnswerProviderUnavailable, err.Error())
		return result
	}

	result.Answer = answer.Text
	result.EvidenceRefs = answer.EvidenceRefs
	result.Confidence = answer.Confidence

	if unresolved := av.unresolvedEvidence(scenario, answer.EvidenceRefs); len(unresolved) > 0 {
		err := fmt.Errorf("%w: %v", domain.ErrUnresolvedEvidence, unresolved)
		span.RecordError(err)
		result.Failure = domain.NewFailure(domain.FailureUnresolvedEvidence, err.Error())
		return result
	}

	result.Correctness, result.MissingPhrases = av.phraseCoverage(scenario, answer.Text)
	result.PathValid = pathValid(scenario.ValidStepTypes, answer.Path)
	result.Miscalibrated = miscalibrated(result.Correctness, len(result.MissingPhrases), answer.Confidence)

	span.SetAttributes(
		attribute.Float64("eval.correctness", result.Correctness),
		attribute.Float64("eval.confidence", result.Confidence),
		attribute.Bool("eval.path_valid", result.PathValid),
		attribute.Bool("eval.miscalibrated", result.Miscalibrated),
	)
	return result
}

// generate calls the provider under the configured budget. A timeout is
// reported as the bool return and scores against the empty answer.
func (av *AnswerValidator) generate(ctx context.Context, scenario *domain.Scenario, question string) (ports.GeneratedAnswer, bool, error) {
	callCtx := ctx
	if av.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, av.config.CallTimeout)
		defer cancel()
	}

	answer, err := av.provider.Generate(callCtx, question, scenario)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ports.ErrTimeout) {
			return ports.GeneratedAnswer{}, true, nil
		}
		return ports.GeneratedAnswer{}, false, fmt.Errorf("answer generation failed: %w", err)
	}
	return answer, false, nil
}

// unresolvedEvidence returns the cited references that do not resolve to a
// declared evidence source.
func (av *AnswerValidator) unresolvedEvidence(scenario *domain.Scenario, refs []string) []string {
	var unresolved []string
	for _, ref := range refs {
		if _, ok := scenario.EvidenceSource(ref); !ok {
			unresolved = append(unresolved, ref)
		}
	}
	return unresolved
}

// phraseCoverage scores the fraction of required phrases the answer
// contains and collects the ones it does not. A scenario with no required
// phrases scores full correctness.
func (av *AnswerValidator) phraseCoverage(scenario *domain.Scenario, text string) (float64, []string) {
	if len(scenario.RequiredPhrases) == 0 {
		return 1.0, nil
	}

	var missing []string
	found := 0
	for _, phrase := range scenario.RequiredPhrases {
		if av.matcher.Matches(text, phrase) {
			found++
		} else {
			missing = append(missing, phrase)
		}
	}
	return float64(found) / float64(len(scenario.RequiredPhrases)), missing
}

// pathValid reports whether every reasoning step label is declared valid.
// A scenario that declares no valid step types accepts any path, and an
// empty path is trivially valid.
func pathValid(validTypes, path []string) bool {
	if len(validTypes) == 0 {
		return true
	}
	valid := make(map[string]struct{}, len(validTypes))
	for _, t := range validTypes {
		valid[t] = struct{}{}
	}
	for _, step := range path {
		if _, ok := valid[step]; !ok {
			return false
		}
	}
	return true
}

// miscalibrated flags confidence/correctness disagreement in either
// direction: a fully correct answer below the lower confidence bound, or a
// fully incorrect one above the upper bound. Partially correct answers are
// never flagged; honest confidence about a partial answer is not a
// calibration defect.
func miscalibrated(correctness float64, missingCount int, confidence float64) bool {
	correct := missingCount == 0 && correctness >= 1.0-domain.FloatEpsilon
	if correct {
		return confidence < calibrationLowerBound
	}
	incorrect := correctness <= domain.FloatEpsilon
	return incorrect && confidence > calibrationUpperBound
}
