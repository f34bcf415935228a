package application

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/clinigraph/verity/internal/domain"
)

// ScenarioStatus is the terminal status of one scenario's validation run.
type ScenarioStatus string

const (
	// StatusPassed means every error-severity assertion held.
	StatusPassed ScenarioStatus = "passed"

	// StatusFailed means at least one error-severity assertion failed.
	StatusFailed ScenarioStatus = "failed"

	// StatusError means the scenario could not be evaluated at all,
	// typically a load failure.
	StatusError ScenarioStatus = "error"
)

// ScenarioReport is the machine-parseable record of one scenario run.
type ScenarioReport struct {
	// ScenarioID identifies the scenario.
	ScenarioID string `json:"scenario_id"`

	// Domain is the scenario's clinical domain tag.
	Domain string `json:"domain,omitempty"`

	// Status is the terminal run status.
	Status ScenarioStatus `json:"status"`

	// Error holds the load/evaluation error for StatusError runs.
	Error string `json:"error,omitempty"`

	// Retryable reports whether the error was a transient collaborator
	// failure the caller may retry.
	Retryable bool `json:"retryable,omitempty"`

	// Graph is the graph fidelity result.
	Graph *domain.GraphFidelityResult `json:"graph,omitempty"`

	// Reasoning holds one result per evaluated strategy.
	Reasoning map[domain.ReasoningStrategy]domain.ReasoningResult `json:"reasoning,omitempty"`

	// Answer is the question-answer validation result.
	Answer *domain.AnswerResult `json:"answer,omitempty"`

	// Impacts holds one simulation result per declared change.
	Impacts map[string]domain.ImpactResult `json:"impacts,omitempty"`

	// Outcomes is the full evaluated assertion surface.
	Outcomes domain.AssertionOutcomeSet `json:"outcomes"`

	// TimingsMs breaks the run down by component in milliseconds.
	TimingsMs map[string]int64 `json:"timings_ms,omitempty"`
}

// RunTotals aggregates scenario statuses and assertion outcomes across the
// whole run.
type RunTotals struct {
	// Scenarios is the number of scenarios attempted.
	Scenarios int `json:"scenarios"`

	// Passed, Failed, and Errored count terminal scenario statuses.
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`

	// Assertions aggregates every scenario's assertion summary.
	Assertions domain.OutcomeSummary `json:"assertions"`
}

// Report is the machine-parseable output of one validation run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// StartedAt and FinishedAt bound the run wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// DurationMs is the total run time in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Scenarios holds one report per scenario, ordered by scenario id.
	Scenarios []ScenarioReport `json:"scenarios"`

	// Totals aggregates the run.
	Totals RunTotals `json:"totals"`
}

// statusOf derives the scenario status from its outcome set.
func statusOf(set domain.AssertionOutcomeSet) ScenarioStatus {
	if set.Summary.FailedBySeverity[domain.SeverityError] > 0 {
		return StatusFailed
	}
	return StatusPassed
}

// buildTotals aggregates scenario reports into run totals.
func buildTotals(scenarios []ScenarioReport) RunTotals {
	totals := RunTotals{
		Scenarios: len(scenarios),
		Assertions: domain.OutcomeSummary{
			FailedBySeverity: make(map[domain.Severity]int),
		},
	}

	for _, sr := range scenarios {
		switch sr.Status {
		case StatusPassed:
			totals.Passed++
		case StatusFailed:
			totals.Failed++
		default:
			totals.Errored++
		}

		totals.Assertions.Total += sr.Outcomes.Summary.Total
		totals.Assertions.Passed += sr.Outcomes.Summary.Passed
		totals.Assertions.Failed += sr.Outcomes.Summary.Failed
		for sev, n := range sr.Outcomes.Summary.FailedBySeverity {
			totals.Assertions.FailedBySeverity[sev] += n
		}
	}

	if totals.Assertions.Total == 0 {
		totals.Assertions.PassRate = 1.0
	} else {
		totals.Assertions.PassRate =
			float64(totals.Assertions.Passed) / float64(totals.Assertions.Total)
	}
	return totals
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}
