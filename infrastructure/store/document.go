package store

import (
	"fmt"

	"github.com/clinigraph/verity/internal/domain"
)

// scenarioDocument is the on-disk YAML schema for one scenario.
// Unknown top-level sections are ignored for forward compatibility, which
// is why decoding does not use strict field checking; required fields are
// enforced here instead, after decode.
type scenarioDocument struct {
	ID               string                       `yaml:"id"`
	Domain           string                       `yaml:"domain"`
	Narrative        string                       `yaml:"narrative"`
	Preconditions    map[string]string            `yaml:"preconditions"`
	ExpectedOutcomes []string                     `yaml:"expected_outcomes"`
	Facts            map[string]string            `yaml:"facts"`
	Rules            []domain.Rule                `yaml:"rules"`
	Layers           map[string]layerStructure    `yaml:"layers"`
	Query            string                       `yaml:"query"`
	Question         string                       `yaml:"question"`
	ExpectedConcepts []string                     `yaml:"expected_concepts"`
	EvidenceSources  []domain.EvidenceSource      `yaml:"evidence_sources"`
	ValidStepTypes   []string                     `yaml:"valid_step_types"`
	RequiredPhrases  []string                     `yaml:"required_phrases"`
	Changes          []changeRecord               `yaml:"changes"`
	GraphAsserts     []assertionRecord            `yaml:"graph_assertions"`
	ReasoningAsserts []assertionRecord            `yaml:"reasoning_assertions"`
	QAAsserts        []assertionRecord            `yaml:"qa_assertions"`
	ImpactAsserts    []assertionRecord            `yaml:"impact_assertions"`
}

// layerStructure mirrors domain.ExpectedStructure for YAML decoding.
type layerStructure struct {
	Nodes []string `yaml:"nodes"`
	Edges []string `yaml:"edges"`
}

// changeRecord is the YAML form of a what-if change declaration.
type changeRecord struct {
	ID           string            `yaml:"id"`
	Kind         string            `yaml:"kind"`
	Description  string            `yaml:"description"`
	AddRule      *domain.Rule      `yaml:"add_rule"`
	RemoveRuleID string            `yaml:"remove_rule_id"`
	SetFacts     map[string]string `yaml:"set_facts"`
}

// assertionRecord is the YAML form of one declared assertion. The four
// assertion sections share this shape; the kind-specific target lives in
// exactly one of Layer, Strategy, Metric, or Change.
type assertionRecord struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Layer       string `yaml:"layer"`
	Strategy    string `yaml:"strategy"`
	Change      string `yaml:"change"`
	Metric      string `yaml:"metric"`
	Operator    string `yaml:"operator"`
	Expected    float64 `yaml:"expected"`
	Severity    string `yaml:"severity"`
}

// toScenario converts a decoded document into an immutable domain.Scenario.
// Missing required fields fail the whole load with ErrMalformedScenario.
// Unknown operators and kinds are deliberately NOT rejected here: they are
// retained verbatim so the assertion evaluator can surface them as failed
// outcomes with forced error severity rather than silently dropping the
// check with the rest of the scenario.
func (doc *scenarioDocument) toScenario() (*domain.Scenario, error) {
	verr := domain.NewValidationError("scenario")

	if doc.ID == "" {
		verr.AddError("id is required")
	}
	if doc.Domain == "" {
		verr.AddError("domain is required")
	}

	structures := make(map[domain.Layer]domain.ExpectedStructure, len(doc.Layers))
	for name, ls := range doc.Layers {
		layer, err := domain.ParseLayer(name)
		if err != nil {
			verr.AddError(fmt.Sprintf("layers: %v", err))
			continue
		}
		structures[layer] = domain.ExpectedStructure{Nodes: ls.Nodes, Edges: ls.Edges}
	}

	changes := make([]domain.Change, 0, len(doc.Changes))
	for i, cr := range doc.Changes {
		if cr.ID == "" {
			verr.AddError(fmt.Sprintf("changes[%d]: id is required", i))
			continue
		}
		kind, err := domain.ParseChangeKind(cr.Kind)
		if err != nil {
			verr.AddError(fmt.Sprintf("changes[%d]: %v", i, err))
			continue
		}
		changes = append(changes, domain.Change{
			ID:           cr.ID,
			Kind:         kind,
			Description:  cr.Description,
			AddRule:      cr.AddRule,
			RemoveRuleID: cr.RemoveRuleID,
			SetFacts:     cr.SetFacts,
		})
	}

	for i, rule := range doc.Rules {
		if rule.ID == "" {
			verr.AddError(fmt.Sprintf("rules[%d]: id is required", i))
		}
		if rule.Then == "" {
			verr.AddError(fmt.Sprintf("rules[%d]: then is required", i))
		}
	}

	assertions := make([]domain.Assertion, 0,
		len(doc.GraphAsserts)+len(doc.ReasoningAsserts)+len(doc.QAAsserts)+len(doc.ImpactAsserts))

	sections := []struct {
		kind    domain.AssertionKind
		records []assertionRecord
	}{
		{domain.KindGraph, doc.GraphAsserts},
		{domain.KindReasoning, doc.ReasoningAsserts},
		{domain.KindAnswer, doc.QAAsserts},
		{domain.KindImpact, doc.ImpactAsserts},
	}

	for _, section := range sections {
		for i, rec := range section.records {
			assertion, err := rec.toAssertion(section.kind)
			if err != nil {
				verr.AddError(fmt.Sprintf("%s_assertions[%d]: %v", section.kind, i, err))
				continue
			}
			assertions = append(assertions, assertion)
		}
	}

	if verr.HasErrors() {
		return nil, verr
	}

	return &domain.Scenario{
		ID:                 doc.ID,
		Domain:             doc.Domain,
		Narrative:          doc.Narrative,
		Preconditions:      doc.Preconditions,
		ExpectedOutcomes:   doc.ExpectedOutcomes,
		ExpectedStructures: structures,
		Rules:              doc.Rules,
		Facts:              doc.Facts,
		Query:              doc.Query,
		Question:           doc.Question,
		ExpectedConcepts:   doc.ExpectedConcepts,
		EvidenceSources:    doc.EvidenceSources,
		ValidStepTypes:     doc.ValidStepTypes,
		RequiredPhrases:    doc.RequiredPhrases,
		Changes:            changes,
		Assertions:         assertions,
	}, nil
}

// toAssertion converts one record into a typed domain.Assertion.
// ID, operator, and severity are required fields; a record missing any of
// them fails to parse. Severity must be one of the closed set; kind and
// operator values outside the closed set are retained for evaluation-time
// rejection with forced error severity.
func (rec assertionRecord) toAssertion(kind domain.AssertionKind) (domain.Assertion, error) {
	if rec.ID == "" {
		return domain.Assertion{}, fmt.Errorf("id is required")
	}
	if rec.Operator == "" {
		return domain.Assertion{}, fmt.Errorf("operator is required")
	}
	if rec.Severity == "" {
		return domain.Assertion{}, fmt.Errorf("severity is required")
	}

	severity, err := domain.ParseSeverity(rec.Severity)
	if err != nil {
		return domain.Assertion{}, err
	}

	target, err := rec.target(kind)
	if err != nil {
		return domain.Assertion{}, err
	}

	return domain.Assertion{
		ID:          rec.ID,
		Kind:        kind,
		Description: rec.Description,
		Target:      target,
		Op:          domain.CompareOp(rec.Operator),
		Expected:    rec.Expected,
		Severity:    severity,
	}, nil
}

// target composes the kind-specific observation target.
func (rec assertionRecord) target(kind domain.AssertionKind) (string, error) {
	switch kind {
	case domain.KindGraph:
		if rec.Layer == "" {
			return "", fmt.Errorf("layer is required for graph assertions")
		}
		return rec.Layer, nil

	case domain.KindReasoning:
		if rec.Strategy == "" {
			return "", fmt.Errorf("strategy is required for reasoning assertions")
		}
		if rec.Metric != "" {
			return rec.Strategy + "/" + rec.Metric, nil
		}
		return rec.Strategy, nil

	case domain.KindAnswer:
		if rec.Metric == "" {
			return "", fmt.Errorf("metric is required for qa assertions")
		}
		return rec.Metric, nil

	case domain.KindImpact:
		if rec.Change == "" {
			return "", fmt.Errorf("change is required for impact assertions")
		}
		if rec.Metric != "" {
			return rec.Change + "/" + rec.Metric, nil
		}
		return rec.Change, nil

	default:
		return "", fmt.Errorf("unknown assertion kind %q", kind)
	}
}
