package domain

// FailureCode classifies why an evaluator could not produce a full result.
type FailureCode string

const (
	// FailureGraphUnavailable means the external graph store could not be
	// reached or timed out. Retryable by the orchestrating caller.
	FailureGraphUnavailable FailureCode = "graph_unavailable"

	// FailureReasoningProviderUnavailable means the reasoning/embedding
	// provider could not be reached or timed out. Retryable.
	FailureReasoningProviderUnavailable FailureCode = "reasoning_provider_unavailable"

	// FailureAnswerProviderUnavailable means the answer-generation
	// provider could not be reached or timed out. Retryable.
	FailureAnswerProviderUnavailable FailureCode = "answer_provider_unavailable"

	// FailureInvalidScenario means the scenario's declared inputs are
	// insufficient for the evaluation. Non-retryable.
	FailureInvalidScenario FailureCode = "invalid_scenario"

	// FailureCriticalLayer means a layer transition scored exactly zero,
	// forcing overall fidelity to zero. Non-retryable for this run.
	FailureCriticalLayer FailureCode = "critical_layer_failure"

	// FailureImpactSimulation means the what-if state machine reached its
	// terminal failed state and no partial score is reported.
	FailureImpactSimulation FailureCode = "impact_simulation_failed"

	// FailureUnresolvedEvidence means an answer cited evidence that does
	// not resolve to a declared source. Non-retryable.
	FailureUnresolvedEvidence FailureCode = "unresolved_evidence"
)

// Failure carries an evaluator's own failure state inside its result object
// instead of aborting the run, so the assertion surface can still be scored.
type Failure struct {
	// Code classifies the failure.
	Code FailureCode `json:"code"`

	// Message is a human-readable explanation.
	Message string `json:"message"`

	// Retryable reports whether the orchestrating caller may retry the
	// evaluation. The validator itself never retries internally.
	Retryable bool `json:"retryable"`
}

// NewFailure builds a Failure with retryability derived from the code.
func NewFailure(code FailureCode, message string) *Failure {
	retryable := false
	switch code {
	case FailureGraphUnavailable, FailureReasoningProviderUnavailable,
		FailureAnswerProviderUnavailable:
		retryable = true
	}
	return &Failure{Code: code, Message: message, Retryable: retryable}
}

// LayerResult scores a single layer transition for one scenario run.
// Results are ephemeral and never persisted beyond the run.
type LayerResult struct {
	// Transition identifies the scored hop.
	Transition Transition `json:"transition"`

	// Accuracy is the set-overlap score |match|/|expected| capped at 1.0.
	Accuracy float64 `json:"accuracy"`

	// Discrepancies lists expected node/edge identifiers that were not
	// found in the derived sub-graph.
	Discrepancies []string `json:"discrepancies,omitempty"`

	// TimedOut reports that the graph query for this hop exceeded its
	// budget and the accuracy reflects a partial or empty selection.
	TimedOut bool `json:"timed_out,omitempty"`
}

// GraphFidelityResult aggregates the three layer-transition scores for a
// scenario plus the cross-layer consistency and overall fidelity.
//
// Invariant: Overall never exceeds the minimum transition accuracy by more
// than FloatEpsilon, and a zero transition forces Overall to zero with
// CriticalLayerFailure set; averaging must never mask a broken hop.
type GraphFidelityResult struct {
	// ScenarioID identifies the validated scenario.
	ScenarioID string `json:"scenario_id"`

	// Transitions holds one LayerResult per ordered hop.
	Transitions []LayerResult `json:"transitions"`

	// Consistency is the minimum pairwise overlap across all hops, a
	// conservative (not averaged) cross-layer metric.
	Consistency float64 `json:"consistency"`

	// Overall is the weighted mean of transition accuracies, floored to
	// zero when any hop scores exactly zero.
	Overall float64 `json:"overall"`

	// CriticalLayerFailure flags that the zero floor was applied.
	CriticalLayerFailure bool `json:"critical_layer_failure"`

	// TimedOut reports that at least one graph query timed out.
	TimedOut bool `json:"timed_out,omitempty"`

	// LatencyMs measures the full validation time in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Failure carries the evaluator failure state, if any.
	Failure *Failure `json:"failure,omitempty"`
}

// ReasoningStrategy enumerates the three reasoning evaluation strategies.
type ReasoningStrategy string

const (
	// StrategySymbolic is rule/logic inference over explicit facts.
	StrategySymbolic ReasoningStrategy = "symbolic"

	// StrategyNeural is similarity/embedding inference.
	StrategyNeural ReasoningStrategy = "neural"

	// StrategyHybrid is the weighted combination of both.
	StrategyHybrid ReasoningStrategy = "hybrid"
)

// ParseReasoningStrategy resolves a document strategy name.
func ParseReasoningStrategy(s string) (ReasoningStrategy, bool) {
	switch ReasoningStrategy(s) {
	case StrategySymbolic, StrategyNeural, StrategyHybrid:
		return ReasoningStrategy(s), true
	default:
		return "", false
	}
}

// ReasoningResult scores one reasoning strategy run against a scenario.
type ReasoningResult struct {
	// ScenarioID identifies the evaluated scenario.
	ScenarioID string `json:"scenario_id"`

	// Strategy is the evaluated strategy.
	Strategy ReasoningStrategy `json:"strategy"`

	// Accuracy is the strategy's correctness score in [0,1].
	Accuracy float64 `json:"accuracy"`

	// Confidence is the strategy's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Path is the ordered list of reasoning step labels.
	Path []string `json:"path,omitempty"`

	// SymbolicWeight, for hybrid runs, indicates how much the combined
	// score depended on rule-based versus similarity-based evidence.
	SymbolicWeight float64 `json:"symbolic_weight,omitempty"`

	// TimedOut reports that the reasoning provider call exceeded its budget.
	TimedOut bool `json:"timed_out,omitempty"`

	// LatencyMs measures the evaluation time in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Failure carries the evaluator failure state, if any.
	Failure *Failure `json:"failure,omitempty"`
}

// AnswerResult is the validation outcome for one generated question-answer.
type AnswerResult struct {
	// ScenarioID identifies the evaluated scenario.
	ScenarioID string `json:"scenario_id"`

	// Question is the evaluated question text.
	Question string `json:"question"`

	// Answer is the generated answer text.
	Answer string `json:"answer"`

	// Correctness scores required-phrase coverage in [0,1].
	Correctness float64 `json:"correctness"`

	// EvidenceRefs lists the evidence ids the answer cited.
	EvidenceRefs []string `json:"evidence_refs,omitempty"`

	// MissingPhrases lists required phrases the answer did not contain.
	MissingPhrases []string `json:"missing_phrases,omitempty"`

	// PathValid is true only when every reasoning step label matches a
	// declared valid step type.
	PathValid bool `json:"path_valid"`

	// Confidence is the provider-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Miscalibrated flags confidence/correctness disagreement: a correct
	// answer reported under 0.5 confidence, or an incorrect answer
	// reported over 0.8. Distinct from plain incorrectness.
	Miscalibrated bool `json:"miscalibrated"`

	// TimedOut reports that the answer-generation call exceeded its budget.
	TimedOut bool `json:"timed_out,omitempty"`

	// LatencyMs measures the answer-generation wall-clock time in
	// milliseconds. Reporting only; never pass/fail on its own.
	LatencyMs int64 `json:"latency_ms"`

	// Failure carries the evaluator failure state, if any.
	Failure *Failure `json:"failure,omitempty"`
}

// SimulationState tracks the strictly sequential what-if state machine:
// unapplied → applied → diffed → scored, with failed as the only other
// terminal state.
type SimulationState string

const (
	// SimUnapplied is the initial state before the change is applied.
	SimUnapplied SimulationState = "unapplied"

	// SimApplied means the change was applied to a transient rule copy.
	SimApplied SimulationState = "applied"

	// SimDiffed means before/after recommendation sets were diffed.
	SimDiffed SimulationState = "diffed"

	// SimScored is the successful terminal state.
	SimScored SimulationState = "scored"

	// SimFailed is the terminal failure state; no partial score is
	// reported from it.
	SimFailed SimulationState = "failed"
)

// DeltaKind classifies a recommendation diff entry.
type DeltaKind string

const (
	// DeltaAdded marks a recommendation present only after the change.
	DeltaAdded DeltaKind = "added"

	// DeltaRemoved marks a recommendation present only before the change.
	DeltaRemoved DeltaKind = "removed"
)

// RecommendationDelta is one entry in the before/after recommendation diff
// produced by impact simulation.
type RecommendationDelta struct {
	// Kind reports whether the recommendation was added or removed.
	Kind DeltaKind `json:"kind"`

	// Recommendation is the affected recommendation text.
	Recommendation string `json:"recommendation"`

	// RuleID is the rule that produced the recommendation, when known.
	RuleID string `json:"rule_id,omitempty"`

	// SafetyCritical marks deltas involving safety-critical rules.
	SafetyCritical bool `json:"safety_critical,omitempty"`

	// Summary is a compact human-readable description of the change.
	Summary string `json:"summary,omitempty"`
}

// ImpactResult reports the measured downstream effect of one hypothetical
// knowledge change.
type ImpactResult struct {
	// ScenarioID identifies the simulated scenario.
	ScenarioID string `json:"scenario_id"`

	// ChangeID identifies the applied change.
	ChangeID string `json:"change_id"`

	// ChangeKind is the typed category of the change.
	ChangeKind ChangeKind `json:"change_kind"`

	// Description echoes the change description for reports.
	Description string `json:"description,omitempty"`

	// AffectedScenarios counts scenarios whose recommendation set changed.
	AffectedScenarios int `json:"affected_scenarios"`

	// Deltas lists the recommendation changes.
	Deltas []RecommendationDelta `json:"deltas,omitempty"`

	// SafetyViolations counts safety-critical recommendations removed
	// without a compensating addition.
	SafetyViolations int `json:"safety_violations"`

	// ImpactScore is the normalized severity-weighted clinical impact.
	ImpactScore float64 `json:"impact_score"`

	// State is the terminal state the simulation reached.
	State SimulationState `json:"state"`

	// LatencyMs measures the simulation time in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Failure carries the simulation failure state, if any.
	Failure *Failure `json:"failure,omitempty"`
}
