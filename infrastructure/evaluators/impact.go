package evaluators

import (
	"context"
	"fmt"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinigraph/verity/internal/domain"
)

// ImpactSimulator measures the downstream effect of a hypothetical
// knowledge change: it applies the change to a transient copy of the
// scenario's decision logic, re-derives the recommendation set, and scores
// the before/after difference.
//
// The simulation is a strictly sequential state machine. Each run moves
// unapplied → applied → diffed → scored; any stage error moves to the
// terminal failed state and no partial score is reported. The stored
// scenario is never mutated.
type ImpactSimulator struct {
	// name is the unique identifier for this simulator instance.
	name string
	// config contains the validated configuration parameters.
	config ImpactConfig
	// differ renders compact textual summaries for modified recommendations.
	differ *diffmatchpatch.DiffMatchPatch
	// tracer is the OpenTelemetry tracer for observability.
	tracer trace.Tracer
}

// ImpactConfig controls the simulation budget.
type ImpactConfig struct {
	// SimTimeout bounds a full simulation run. Exceeding it moves the
	// state machine to failed.
	SimTimeout time.Duration `yaml:"sim_timeout" json:"sim_timeout" validate:"min=0"`
}

// DefaultImpactConfig returns the production default: a 1s simulation
// budget, generous because simulation is pure computation with no
// collaborator calls.
func DefaultImpactConfig() ImpactConfig {
	return ImpactConfig{SimTimeout: time.Second}
}

// NewImpactSimulator creates a simulator with the given configuration.
func NewImpactSimulator(name string, config ImpactConfig) (*ImpactSimulator, error) {
	if name == "" {
		return nil, ErrEmptyEvaluatorName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &ImpactSimulator{
		name:   name,
		config: config,
		differ: diffmatchpatch.New(),
		tracer: otel.Tracer("impact-simulator"),
	}, nil
}

// Name returns the unique identifier for this simulator instance.
func (is *ImpactSimulator) Name() string { return is.name }

// Simulate runs the what-if state machine for one declared change.
func (is *ImpactSimulator) Simulate(ctx context.Context, scenario *domain.Scenario, changeID string) domain.ImpactResult {
	ctx, span := is.tracer.Start(ctx, "ImpactSimulator.Simulate",
		trace.WithAttributes(
			attribute.String("evaluator.id", is.name),
			attribute.String("scenario.id", scenario.ID),
			attribute.String("change.id", changeID),
		),
	)
	defer span.End()

	if is.config.SimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, is.config.SimTimeout)
		defer cancel()
	}

	start := time.Now()
	result := domain.ImpactResult{
		ScenarioID: scenario.ID,
		ChangeID:   changeID,
		State:      domain.SimUnapplied,
	}

	fail := func(err error) domain.ImpactResult {
		span.RecordError(err)
		result.State = domain.SimFailed
		result.Failure = domain.NewFailure(domain.FailureImpactSimulation, err.Error())
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}

	change, ok := scenario.ChangeByID(changeID)
	if !ok {
		return fail(fmt.Errorf("%w: change %q not declared by scenario %q",
			domain.ErrImpactSimulationFailed, changeID, scenario.ID))
	}
	result.ChangeKind = change.Kind
	result.Description = change.Description

	// apply
	rules, facts, err := applyChange(scenario, change)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", domain.ErrImpactSimulationFailed, err))
	}
	result.State = domain.SimApplied
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: simulation budget exceeded after apply: %v",
			domain.ErrImpactSimulationFailed, err))
	}

	// diff
	before := deriveRecommendations(scenario.Rules, scenario.Facts)
	after := deriveRecommendations(rules, facts)
	result.Deltas = is.diffRecommendations(before, after)
	result.State = domain.SimDiffed
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%w: simulation budget exceeded after diff: %v",
			domain.ErrImpactSimulationFailed, err))
	}

	// score
	if len(result.Deltas) > 0 {
		result.AffectedScenarios = 1
	}
	result.SafetyViolations = countSafetyViolations(result.Deltas)
	result.ImpactScore = impactScore(result.Deltas, scenario.Rules, rules)
	result.State = domain.SimScored
	result.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("eval.deltas", len(result.Deltas)),
		attribute.Int("eval.safety_violations", result.SafetyViolations),
		attribute.Float64("eval.impact_score", result.ImpactScore),
	)
	return result
}

// recommendation pairs a derived recommendation with the rule that
// produced it.
type recommendation struct {
	text string
	rule domain.Rule
}

// applyChange builds the post-change rule set and fact base without
// touching the scenario's own slices and maps.
func applyChange(scenario *domain.Scenario, change domain.Change) ([]domain.Rule, map[string]string, error) {
	rules := make([]domain.Rule, 0, len(scenario.Rules)+1)
	existing := make(map[string]struct{}, len(scenario.Rules))
	removed := false
	for _, r := range scenario.Rules {
		existing[r.ID] = struct{}{}
		if change.RemoveRuleID != "" && r.ID == change.RemoveRuleID {
			removed = true
			continue
		}
		rules = append(rules, r)
	}
	if change.RemoveRuleID != "" && !removed {
		return nil, nil, fmt.Errorf("change %q removes unknown rule %q", change.ID, change.RemoveRuleID)
	}

	if change.AddRule != nil {
		if change.AddRule.ID == "" {
			return nil, nil, fmt.Errorf("change %q adds a rule without an id", change.ID)
		}
		if _, dup := existing[change.AddRule.ID]; dup && change.AddRule.ID != change.RemoveRuleID {
			return nil, nil, fmt.Errorf("change %q adds duplicate rule %q", change.ID, change.AddRule.ID)
		}
		rules = append(rules, *change.AddRule)
	}

	facts := make(map[string]string, len(scenario.Facts)+len(change.SetFacts))
	for k, v := range scenario.Facts {
		facts[k] = v
	}
	for k, v := range change.SetFacts {
		facts[k] = v
	}
	return rules, facts, nil
}

// deriveRecommendations executes the rule set against the facts and
// returns the firing recommendations in rule-declaration order. The first
// rule producing a given recommendation owns it.
func deriveRecommendations(rules []domain.Rule, facts map[string]string) []recommendation {
	seen := make(map[string]struct{}, len(rules))
	var recs []recommendation
	for _, r := range rules {
		if !r.Fires(facts) {
			continue
		}
		if _, dup := seen[r.Then]; dup {
			continue
		}
		seen[r.Then] = struct{}{}
		recs = append(recs, recommendation{text: r.Then, rule: r})
	}
	return recs
}

// diffRecommendations compares the before/after recommendation sets and
// emits removed entries before added ones. An added recommendation whose
// rule id also appears among the removals is a modification and carries a
// compact textual diff summary.
func (is *ImpactSimulator) diffRecommendations(before, after []recommendation) []domain.RecommendationDelta {
	beforeSet := make(map[string]recommendation, len(before))
	for _, r := range before {
		beforeSet[r.text] = r
	}
	afterSet := make(map[string]recommendation, len(after))
	for _, r := range after {
		afterSet[r.text] = r
	}

	var deltas []domain.RecommendationDelta
	removedByRule := make(map[string]string)
	for _, r := range before {
		if _, ok := afterSet[r.text]; ok {
			continue
		}
		removedByRule[r.rule.ID] = r.text
		deltas = append(deltas, domain.RecommendationDelta{
			Kind:           domain.DeltaRemoved,
			Recommendation: r.text,
			RuleID:         r.rule.ID,
			SafetyCritical: r.rule.SafetyCritical,
		})
	}
	for _, r := range after {
		if _, ok := beforeSet[r.text]; ok {
			continue
		}
		delta := domain.RecommendationDelta{
			Kind:           domain.DeltaAdded,
			Recommendation: r.text,
			RuleID:         r.rule.ID,
			SafetyCritical: r.rule.SafetyCritical,
		}
		if prev, modified := removedByRule[r.rule.ID]; modified {
			delta.Summary = is.summarize(prev, r.text)
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// summarize renders a compact inline diff between the old and new
// recommendation text, e.g. "reduce dose to [-1000mg][+500mg] daily".
func (is *ImpactSimulator) summarize(before, after string) string {
	diffs := is.differ.DiffMain(before, after, false)
	diffs = is.differ.DiffCleanupSemantic(diffs)

	var out string
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			out += "[+" + d.Text + "]"
		case diffmatchpatch.DiffDelete:
			out += "[-" + d.Text + "]"
		default:
			out += d.Text
		}
	}
	return out
}

// countSafetyViolations counts safety-critical recommendations that were
// removed without any compensating safety-critical addition.
func countSafetyViolations(deltas []domain.RecommendationDelta) int {
	compensated := false
	for _, d := range deltas {
		if d.Kind == domain.DeltaAdded && d.SafetyCritical {
			compensated = true
		}
	}
	if compensated {
		return 0
	}

	violations := 0
	for _, d := range deltas {
		if d.Kind == domain.DeltaRemoved && d.SafetyCritical {
			violations++
		}
	}
	return violations
}

// impactScore is the severity-weighted share of the decision surface the
// change touched, normalized to [0,1]. The denominator is the combined
// weight of every rule in the before and after sets so a change to the
// only rule of a scenario scores 1.0.
func impactScore(deltas []domain.RecommendationDelta, before, after []domain.Rule) float64 {
	weights := make(map[string]float64, len(before)+len(after))
	total := 0.0
	for _, r := range before {
		if _, ok := weights[r.ID]; !ok {
			weights[r.ID] = r.Severity.Weight()
			total += r.Severity.Weight()
		}
	}
	for _, r := range after {
		if _, ok := weights[r.ID]; !ok {
			weights[r.ID] = r.Severity.Weight()
			total += r.Severity.Weight()
		}
	}
	if total == 0 {
		return 0
	}

	touched := make(map[string]struct{}, len(deltas))
	changed := 0.0
	for _, d := range deltas {
		if _, dup := touched[d.RuleID]; dup {
			continue
		}
		touched[d.RuleID] = struct{}{}
		changed += weights[d.RuleID]
	}

	score := changed / total
	if score > 1 {
		score = 1
	}
	return score
}
