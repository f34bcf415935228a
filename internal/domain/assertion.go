package domain

import (
	"fmt"
	"math"
)

// FloatEpsilon is the tolerance used for floating-point equality when
// evaluating `=` assertions.
const FloatEpsilon = 1e-9

// AssertionKind discriminates which evaluator's result an assertion is
// checked against. The kind is resolved once at scenario load time; an
// unknown kind fails the load rather than surfacing during evaluation.
type AssertionKind string

const (
	// KindGraph targets graph fidelity results.
	KindGraph AssertionKind = "graph"

	// KindReasoning targets reasoning evaluation results.
	KindReasoning AssertionKind = "reasoning"

	// KindAnswer targets question-answer validation results.
	KindAnswer AssertionKind = "answer"

	// KindImpact targets what-if impact simulation results.
	KindImpact AssertionKind = "impact"
)

// ParseAssertionKind resolves a document kind string to an AssertionKind.
func ParseAssertionKind(s string) (AssertionKind, error) {
	switch AssertionKind(s) {
	case KindGraph, KindReasoning, KindAnswer, KindImpact:
		return AssertionKind(s), nil
	default:
		return "", fmt.Errorf("unknown assertion kind %q", s)
	}
}

// CompareOp is the comparison operator an assertion applies to the
// observed value.
type CompareOp string

const (
	// OpGTE passes when observed >= expected.
	OpGTE CompareOp = ">="

	// OpLTE passes when observed <= expected.
	OpLTE CompareOp = "<="

	// OpEQ passes when |observed - expected| <= FloatEpsilon.
	OpEQ CompareOp = "="

	// OpExists passes when the observed value resolved to something
	// non-null and non-empty; the expected value is ignored.
	OpExists CompareOp = "exists"
)

// ParseCompareOp resolves a document operator string to a CompareOp.
func ParseCompareOp(s string) (CompareOp, error) {
	switch CompareOp(s) {
	case OpGTE, OpLTE, OpEQ, OpExists:
		return CompareOp(s), nil
	default:
		return "", fmt.Errorf("unknown comparison operator %q", s)
	}
}

// Compare applies the operator to a resolved numeric observation.
// OpExists is true whenever the observation resolved at all, which is the
// caller's precondition for invoking Compare.
func (op CompareOp) Compare(observed, expected float64) bool {
	switch op {
	case OpGTE:
		return observed >= expected
	case OpLTE:
		return observed <= expected
	case OpEQ:
		return math.Abs(observed-expected) <= FloatEpsilon
	case OpExists:
		return true
	default:
		return false
	}
}

// Severity grades how a failed assertion affects the run verdict.
type Severity string

const (
	// SeverityError marks failures that should fail the run.
	SeverityError Severity = "error"

	// SeverityWarning marks failures that degrade but do not fail the run.
	SeverityWarning Severity = "warning"

	// SeverityInfo marks informational checks.
	SeverityInfo Severity = "info"
)

// ParseSeverity resolves a document severity string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityError, SeverityWarning, SeverityInfo:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Assertion is a single typed, declarative check: compare the observed
// value resolved from an evaluator result against an expected value.
// Kind, operator, and severity are closed enums resolved at load time.
type Assertion struct {
	// ID uniquely identifies the assertion within its scenario.
	ID string `json:"id"`

	// Kind selects which evaluator result the observation comes from.
	Kind AssertionKind `json:"kind"`

	// Description is the human-readable intent of the check.
	Description string `json:"description"`

	// Target selects the observation within the result: a layer name or
	// metric for graph, a strategy (with optional metric suffix) for
	// reasoning, a metric for answer, a change id plus metric for impact.
	Target string `json:"target"`

	// Op is the comparison operator.
	Op CompareOp `json:"op"`

	// Expected is the numeric expected value. Ignored for OpExists.
	Expected float64 `json:"expected"`

	// Severity grades the weight of a failure.
	Severity Severity `json:"severity"`
}

// AssertionOutcome is the evaluated result of a single assertion.
// Outcomes are ephemeral; they exist only within a validation run.
type AssertionOutcome struct {
	// AssertionID links back to the declared assertion.
	AssertionID string `json:"assertion_id"`

	// Kind echoes the assertion kind for report grouping.
	Kind AssertionKind `json:"kind"`

	// Passed reports whether the comparison held.
	Passed bool `json:"passed"`

	// Observed is the resolved observation, when resolution succeeded.
	Observed float64 `json:"observed"`

	// Resolved reports whether an observation could be resolved at all.
	// Unresolved observations always fail.
	Resolved bool `json:"resolved"`

	// Severity is the effective severity of the outcome. Malformed
	// assertions are forced to SeverityError regardless of declaration.
	Severity Severity `json:"severity"`

	// Reason explains a failure or resolution problem.
	Reason string `json:"reason,omitempty"`
}

// OutcomeSummary aggregates the outcomes of one scenario's assertion set.
type OutcomeSummary struct {
	// Total is the number of declared assertions, which always equals the
	// number of reported outcomes.
	Total int `json:"total"`

	// Passed counts passing outcomes.
	Passed int `json:"passed"`

	// Failed counts failing outcomes.
	Failed int `json:"failed"`

	// FailedBySeverity breaks failures down by effective severity.
	FailedBySeverity map[Severity]int `json:"failed_by_severity"`

	// PassRate is Passed/Total, or 1.0 for an empty assertion set.
	PassRate float64 `json:"pass_rate"`
}

// AssertionOutcomeSet is the complete evaluated assertion surface for one
// scenario, including outcomes for assertions whose upstream evaluator
// failed. No declared assertion is ever silently dropped.
type AssertionOutcomeSet struct {
	// ScenarioID identifies the evaluated scenario.
	ScenarioID string `json:"scenario_id"`

	// Outcomes holds exactly one entry per declared assertion, in
	// declaration order.
	Outcomes []AssertionOutcome `json:"outcomes"`

	// Summary aggregates the outcomes.
	Summary OutcomeSummary `json:"summary"`
}

// Summarize computes an OutcomeSummary over the given outcomes.
func Summarize(outcomes []AssertionOutcome) OutcomeSummary {
	summary := OutcomeSummary{
		Total:            len(outcomes),
		FailedBySeverity: make(map[Severity]int),
	}

	for _, o := range outcomes {
		if o.Passed {
			summary.Passed++
			continue
		}
		summary.Failed++
		summary.FailedBySeverity[o.Severity]++
	}

	if summary.Total == 0 {
		summary.PassRate = 1.0
	} else {
		summary.PassRate = float64(summary.Passed) / float64(summary.Total)
	}
	return summary
}
