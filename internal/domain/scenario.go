// Package domain contains pure, dependency-free domain models and types
// for the clinical knowledge validation framework.
package domain

import (
	"fmt"
)

// Layer identifies one of the four progressively-computable representations
// of clinical knowledge, from raw guideline prose to an executable workflow.
// Layers are ordered; transformations only move forward.
type Layer int

const (
	// LayerRawText is the original guideline prose (L0).
	LayerRawText Layer = iota

	// LayerStructuredKnowledge is the structured knowledge-graph form (L1).
	LayerStructuredKnowledge

	// LayerComputableLogic is the rule/logic form derived from the graph (L2).
	LayerComputableLogic

	// LayerExecutableWorkflow is the executable clinical workflow form (L3).
	LayerExecutableWorkflow
)

// String returns the canonical name used in scenario documents and reports.
func (l Layer) String() string {
	switch l {
	case LayerRawText:
		return "raw-text"
	case LayerStructuredKnowledge:
		return "structured-knowledge"
	case LayerComputableLogic:
		return "computable-logic"
	case LayerExecutableWorkflow:
		return "executable-workflow"
	default:
		return fmt.Sprintf("layer(%d)", int(l))
	}
}

// ParseLayer resolves a scenario-document layer name to a Layer.
// It returns an error for unknown names so malformed documents fail at
// load time rather than during evaluation.
func ParseLayer(s string) (Layer, error) {
	switch s {
	case "raw-text":
		return LayerRawText, nil
	case "structured-knowledge":
		return LayerStructuredKnowledge, nil
	case "computable-logic":
		return LayerComputableLogic, nil
	case "executable-workflow":
		return LayerExecutableWorkflow, nil
	default:
		return 0, fmt.Errorf("unknown layer %q", s)
	}
}

// Transition is a single forward hop between adjacent layers.
type Transition struct {
	// From is the source layer of the hop.
	From Layer `json:"from"`

	// To is the destination layer of the hop.
	To Layer `json:"to"`
}

// String returns a compact "from->to" form for logs and reports.
func (t Transition) String() string {
	return t.From.String() + "->" + t.To.String()
}

// Transitions returns the three ordered layer transitions validated by the
// fidelity checker: raw→structured, structured→logic, logic→workflow.
func Transitions() []Transition {
	return []Transition{
		{From: LayerRawText, To: LayerStructuredKnowledge},
		{From: LayerStructuredKnowledge, To: LayerComputableLogic},
		{From: LayerComputableLogic, To: LayerExecutableWorkflow},
	}
}

// ExpectedStructure declares the node and edge identifiers a scenario
// expects to find in the derived sub-graph after a layer transition.
type ExpectedStructure struct {
	// Nodes lists the expected node identifiers.
	Nodes []string `json:"nodes" yaml:"nodes"`

	// Edges lists the expected edge identifiers.
	Edges []string `json:"edges" yaml:"edges"`
}

// Empty reports whether the structure declares nothing to match against.
// A scenario with an empty expected structure for a validated layer is
// malformed and must fail fast.
func (es ExpectedStructure) Empty() bool {
	return len(es.Nodes) == 0 && len(es.Edges) == 0
}

// RuleSeverity grades the clinical weight of a rule's recommendation.
// It drives impact scoring, not pass/fail decisions.
type RuleSeverity string

const (
	// RuleSeverityHigh marks recommendations whose change carries high
	// clinical weight (e.g. contraindications).
	RuleSeverityHigh RuleSeverity = "high"

	// RuleSeverityMedium marks moderately weighted recommendations
	// (e.g. dosing guidance).
	RuleSeverityMedium RuleSeverity = "medium"

	// RuleSeverityLow marks low-weight recommendations
	// (e.g. monitoring-frequency advice).
	RuleSeverityLow RuleSeverity = "low"
)

// Weight returns the normalized scoring weight for this severity.
// Unknown severities weigh as medium so a typo never zeroes an impact score.
func (rs RuleSeverity) Weight() float64 {
	switch rs {
	case RuleSeverityHigh:
		return 1.0
	case RuleSeverityLow:
		return 0.25
	default:
		return 0.5
	}
}

// Rule is a single unit of computable clinical decision logic declared by a
// scenario: when every condition matches the scenario's facts, the rule
// fires and yields its recommendation.
type Rule struct {
	// ID uniquely identifies the rule within its scenario.
	ID string `json:"id" yaml:"id"`

	// When maps fact names to the values required for the rule to fire.
	// All entries must match; an empty map never fires.
	When map[string]string `json:"when" yaml:"when"`

	// Then is the recommendation produced when the rule fires.
	Then string `json:"then" yaml:"then"`

	// GuidelineRef cites the guideline passage this rule was derived from.
	// Rules with a citation count toward the hybrid symbolic weight.
	GuidelineRef string `json:"guideline_ref,omitempty" yaml:"guideline_ref"`

	// SafetyCritical marks rules whose recommendation must never silently
	// disappear from the derived recommendation set.
	SafetyCritical bool `json:"safety_critical,omitempty" yaml:"safety_critical"`

	// Severity grades the clinical weight of the recommendation.
	Severity RuleSeverity `json:"severity,omitempty" yaml:"severity"`

	// ExpectFire declares whether the scenario expects this rule to fire
	// against its facts. Symbolic accuracy is the fraction of rules whose
	// actual firing matches this expectation.
	ExpectFire bool `json:"expect_fire" yaml:"expect_fire"`
}

// Fires reports whether the rule fires against the given facts.
// A rule with no conditions never fires.
func (r Rule) Fires(facts map[string]string) bool {
	if len(r.When) == 0 {
		return false
	}
	for name, want := range r.When {
		if facts[name] != want {
			return false
		}
	}
	return true
}

// EvidenceSource is a declared citation an answer may reference.
// Evidence references that do not resolve to a declared source are a hard
// validation failure.
type EvidenceSource struct {
	// ID is the reference key used by answers.
	ID string `json:"id" yaml:"id"`

	// Citation is the human-readable source description.
	Citation string `json:"citation" yaml:"citation"`
}

// ChangeKind enumerates the supported hypothetical knowledge edits for
// what-if impact simulation.
type ChangeKind string

const (
	// ChangeAddContraindication introduces a new contraindication rule.
	ChangeAddContraindication ChangeKind = "add-contraindication"

	// ChangeDoseChange alters dosing guidance.
	ChangeDoseChange ChangeKind = "dose-change"

	// ChangeNewRecommendation introduces a new recommendation rule.
	ChangeNewRecommendation ChangeKind = "new-recommendation"

	// ChangeEligibilityUpdate alters patient eligibility conditions.
	ChangeEligibilityUpdate ChangeKind = "eligibility-update"

	// ChangeAvailabilityChange reflects a therapy availability change.
	ChangeAvailabilityChange ChangeKind = "availability-change"
)

// ParseChangeKind resolves a scenario-document change kind to a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch ChangeKind(s) {
	case ChangeAddContraindication, ChangeDoseChange, ChangeNewRecommendation,
		ChangeEligibilityUpdate, ChangeAvailabilityChange:
		return ChangeKind(s), nil
	default:
		return "", fmt.Errorf("unknown change kind %q", s)
	}
}

// Change describes one hypothetical edit to a scenario's decision logic.
// Changes are applied to a transient copy only; the stored Scenario is
// never mutated.
type Change struct {
	// ID uniquely identifies the change within its scenario.
	ID string `json:"id" yaml:"id"`

	// Kind is the typed category of the edit.
	Kind ChangeKind `json:"kind" yaml:"kind"`

	// Description explains the edit in clinical terms.
	Description string `json:"description" yaml:"description"`

	// AddRule, when set, is a new rule introduced by the edit.
	AddRule *Rule `json:"add_rule,omitempty" yaml:"add_rule"`

	// RemoveRuleID, when set, removes an existing rule by id.
	RemoveRuleID string `json:"remove_rule_id,omitempty" yaml:"remove_rule_id"`

	// SetFacts overrides scenario facts for the simulated run.
	SetFacts map[string]string `json:"set_facts,omitempty" yaml:"set_facts"`
}

// Scenario is an immutable clinical test fixture: a narrative, its
// structured preconditions and facts, the decision logic derived from
// guidelines, the structures each knowledge layer is expected to contain,
// and the declared assertions to evaluate against computed results.
//
// Scenarios are owned by the scenario store, shared read-only for the
// process lifetime, and must never be mutated after load.
type Scenario struct {
	// ID uniquely identifies the scenario.
	ID string `json:"id"`

	// Domain is the clinical domain tag (e.g. "cardiology").
	Domain string `json:"domain"`

	// Narrative is the free-text clinical vignette.
	Narrative string `json:"narrative"`

	// Preconditions holds structured patient/problem context.
	Preconditions map[string]string `json:"preconditions,omitempty"`

	// ExpectedOutcomes lists the clinically correct conclusions for the
	// scenario. Hybrid rule coverage is measured against this set.
	ExpectedOutcomes []string `json:"expected_outcomes,omitempty"`

	// ExpectedStructures declares, per destination layer, the sub-graph
	// structure the transformation is expected to produce.
	ExpectedStructures map[Layer]ExpectedStructure `json:"expected_structures,omitempty"`

	// Rules is the scenario's declared computable decision logic.
	Rules []Rule `json:"rules,omitempty"`

	// Facts holds the declared fact base the rules execute against.
	Facts map[string]string `json:"facts,omitempty"`

	// Query is the free-text query used for neural concept matching.
	Query string `json:"query,omitempty"`

	// Question is the clinical question posed to the answer provider.
	// Falls back to Query when empty.
	Question string `json:"question,omitempty"`

	// ExpectedConcepts lists the knowledge-graph concepts a correct
	// neural match must intersect.
	ExpectedConcepts []string `json:"expected_concepts,omitempty"`

	// EvidenceSources lists the citations answers may reference.
	EvidenceSources []EvidenceSource `json:"evidence_sources,omitempty"`

	// ValidStepTypes lists the step labels a valid reasoning path may use.
	ValidStepTypes []string `json:"valid_step_types,omitempty"`

	// RequiredPhrases lists substrings a correct answer must contain.
	RequiredPhrases []string `json:"required_phrases,omitempty"`

	// Changes lists the declared what-if edits for impact simulation.
	Changes []Change `json:"changes,omitempty"`

	// Assertions lists the declared checks evaluated against computed
	// results for this scenario.
	Assertions []Assertion `json:"assertions,omitempty"`
}

// EvidenceSource returns the declared evidence source with the given id.
func (s *Scenario) EvidenceSource(id string) (EvidenceSource, bool) {
	for _, src := range s.EvidenceSources {
		if src.ID == id {
			return src, true
		}
	}
	return EvidenceSource{}, false
}

// ChangeByID returns the declared change with the given id.
func (s *Scenario) ChangeByID(id string) (Change, bool) {
	for _, c := range s.Changes {
		if c.ID == id {
			return c, true
		}
	}
	return Change{}, false
}

// RuleCoverage returns the fraction of expected outcomes that are concluded
// by a guideline-cited rule. It is the scenario's "decision surface
// rule-coverability" and drives the hybrid symbolic weight.
// Scenarios with no expected outcomes have zero coverage.
func (s *Scenario) RuleCoverage() float64 {
	if len(s.ExpectedOutcomes) == 0 {
		return 0
	}

	cited := make(map[string]struct{}, len(s.Rules))
	for _, r := range s.Rules {
		if r.GuidelineRef != "" {
			cited[r.Then] = struct{}{}
		}
	}

	covered := 0
	for _, outcome := range s.ExpectedOutcomes {
		if _, ok := cited[outcome]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(s.ExpectedOutcomes))
}
