package application

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigraph/verity/infrastructure/evaluators"
	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// mapStore serves scenarios from memory.
type mapStore struct {
	scenarios map[string]*domain.Scenario
}

func (m *mapStore) Load(ctx context.Context, id string) (*domain.Scenario, error) {
	s, ok := m.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
	}
	return s, nil
}

func (m *mapStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.scenarios))
	for id := range m.scenarios {
		ids = append(ids, id)
	}
	return ids, nil
}

// perfectGraphStore returns exactly the expected structure for every layer.
type perfectGraphStore struct {
	scenario *domain.Scenario
}

func (p *perfectGraphStore) Query(ctx context.Context, layer domain.Layer, subject string) (ports.GraphSelection, error) {
	expected := p.scenario.ExpectedStructures[layer]
	return ports.GraphSelection{Nodes: expected.Nodes, Edges: expected.Edges}, nil
}

type fixedConcepts struct {
	matches []ports.ConceptMatch
}

func (f *fixedConcepts) MatchConcepts(ctx context.Context, query string, topK int) ([]ports.ConceptMatch, error) {
	return f.matches, nil
}

type fixedAnswers struct {
	answer ports.GeneratedAnswer
}

func (f *fixedAnswers) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	return f.answer, nil
}

func runnerScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:     "ckd-metformin-01",
		Domain: "nephrology",
		Facts: map[string]string{
			"egfr_band":  "below-30",
			"medication": "metformin",
		},
		ExpectedOutcomes: []string{"discontinue metformin"},
		ExpectedStructures: map[domain.Layer]domain.ExpectedStructure{
			domain.LayerStructuredKnowledge: {Nodes: []string{"n-metformin"}, Edges: []string{"e-contra"}},
			domain.LayerComputableLogic:     {Nodes: []string{"n-rule"}},
			domain.LayerExecutableWorkflow:  {Nodes: []string{"n-step"}},
		},
		Rules: []domain.Rule{{
			ID:           "r-metformin-egfr",
			When:         map[string]string{"egfr_band": "below-30"},
			Then:         "discontinue metformin",
			GuidelineRef: "kdigo-2024-s4.3",
			Severity:     domain.RuleSeverityHigh,
			ExpectFire:   true,
		}},
		Query:            "metformin in advanced CKD",
		Question:         "Should metformin be continued?",
		ExpectedConcepts: []string{"metformin"},
		EvidenceSources: []domain.EvidenceSource{
			{ID: "kdigo-2024", Citation: "KDIGO 2024"},
		},
		RequiredPhrases: []string{"discontinue metformin"},
		Changes: []domain.Change{{
			ID:           "c-relax",
			Kind:         domain.ChangeEligibilityUpdate,
			Description:  "drop the contraindication",
			RemoveRuleID: "r-metformin-egfr",
		}},
		Assertions: []domain.Assertion{
			{ID: "a-overall", Kind: domain.KindGraph, Target: "overall", Op: domain.OpGTE, Expected: 0.9, Severity: domain.SeverityError},
			{ID: "a-symbolic", Kind: domain.KindReasoning, Target: "symbolic", Op: domain.OpGTE, Expected: 0.95, Severity: domain.SeverityError},
			{ID: "a-weight", Kind: domain.KindReasoning, Target: "hybrid/symbolic_weight", Op: domain.OpGTE, Expected: 0.7, Severity: domain.SeverityWarning},
			{ID: "a-correct", Kind: domain.KindAnswer, Target: "correctness", Op: domain.OpEQ, Expected: 1.0, Severity: domain.SeverityError},
			{ID: "a-impact", Kind: domain.KindImpact, Target: "c-relax/impact_score", Op: domain.OpExists, Severity: domain.SeverityInfo},
		},
	}
}

func newTestRunner(t *testing.T, scenarios map[string]*domain.Scenario) *Runner {
	t.Helper()

	// Every stored scenario shares the same structure in these tests, so
	// one perfect graph stub serves all of them.
	var any *domain.Scenario
	for _, s := range scenarios {
		any = s
		break
	}

	graph, err := evaluators.NewGraphFidelityChecker("graph",
		evaluators.DefaultGraphFidelityConfig(), &perfectGraphStore{scenario: any})
	require.NoError(t, err)

	reasoning, err := evaluators.NewReasoningEvaluator("reasoning",
		evaluators.DefaultReasoningConfig(),
		&fixedConcepts{matches: []ports.ConceptMatch{{ConceptID: "metformin", Similarity: 0.95}}})
	require.NoError(t, err)

	answer, err := evaluators.NewAnswerValidator("answer",
		evaluators.DefaultAnswerConfig(),
		&fixedAnswers{answer: ports.GeneratedAnswer{
			Text:         "Discontinue metformin immediately.",
			EvidenceRefs: []string{"kdigo-2024"},
			Confidence:   0.9,
		}},
		evaluators.NewContainsMatcher())
	require.NoError(t, err)

	impact, err := evaluators.NewImpactSimulator("impact", evaluators.DefaultImpactConfig())
	require.NoError(t, err)

	assertions, err := evaluators.NewAssertionEvaluator("assertions")
	require.NoError(t, err)

	runner, err := NewRunner(RunnerParams{
		Store:       &mapStore{scenarios: scenarios},
		Graph:       graph,
		Reasoning:   reasoning,
		Answer:      answer,
		Impact:      impact,
		Assertions:  assertions,
		Concurrency: 4,
	})
	require.NoError(t, err)
	return runner
}

func TestNewRunner_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(RunnerParams{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerParams{Store: &mapStore{}})
	assert.Error(t, err, "evaluators are required")
}

func TestRunner_Run_FullScenario(t *testing.T) {
	t.Parallel()

	scenario := runnerScenario()
	runner := newTestRunner(t, map[string]*domain.Scenario{scenario.ID: scenario})

	report, err := runner.Run(context.Background(), []string{scenario.ID})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Totals.Scenarios)
	assert.Equal(t, 1, report.Totals.Passed)
	assert.Zero(t, report.Totals.Failed)

	require.Len(t, report.Scenarios, 1)
	sr := report.Scenarios[0]
	assert.Equal(t, StatusPassed, sr.Status)
	assert.Equal(t, "nephrology", sr.Domain)

	require.NotNil(t, sr.Graph)
	assert.InDelta(t, 1.0, sr.Graph.Overall, domain.FloatEpsilon)
	require.Len(t, sr.Reasoning, 3)
	require.NotNil(t, sr.Answer)
	assert.InDelta(t, 1.0, sr.Answer.Correctness, domain.FloatEpsilon)
	require.Contains(t, sr.Impacts, "c-relax")

	assert.Len(t, sr.Outcomes.Outcomes, len(scenario.Assertions),
		"one outcome per declared assertion")
	assert.Contains(t, sr.TimingsMs, "graph")
	assert.Contains(t, sr.TimingsMs, "reasoning")
	assert.Contains(t, sr.TimingsMs, "answer")
	assert.Contains(t, sr.TimingsMs, "impact")
}

func TestRunner_Run_LoadFailureIsIsolated(t *testing.T) {
	t.Parallel()

	scenario := runnerScenario()
	runner := newTestRunner(t, map[string]*domain.Scenario{scenario.ID: scenario})

	report, err := runner.Run(context.Background(), []string{scenario.ID, "missing-id"})
	require.NoError(t, err, "one bad scenario never aborts the run")

	assert.Equal(t, 1, report.Totals.Passed)
	assert.Equal(t, 1, report.Totals.Errored)

	var errored *ScenarioReport
	for i := range report.Scenarios {
		if report.Scenarios[i].Status == StatusError {
			errored = &report.Scenarios[i]
		}
	}
	require.NotNil(t, errored)
	assert.Equal(t, "missing-id", errored.ScenarioID)
	assert.False(t, errored.Retryable, "an unknown scenario id is not retryable")
}

func TestRunner_Run_ListsWhenNoIDsGiven(t *testing.T) {
	t.Parallel()

	a := runnerScenario()
	b := runnerScenario()
	b.ID = "ckd-metformin-02"
	runner := newTestRunner(t, map[string]*domain.Scenario{a.ID: a, b.ID: b})

	report, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, report.Scenarios, 2)
	assert.Equal(t, "ckd-metformin-01", report.Scenarios[0].ScenarioID,
		"reports are ordered by scenario id")
	assert.Equal(t, "ckd-metformin-02", report.Scenarios[1].ScenarioID)
}

func TestRunner_Run_ErrorSeverityFailureFailsScenario(t *testing.T) {
	t.Parallel()

	scenario := runnerScenario()
	scenario.Assertions = append(scenario.Assertions, domain.Assertion{
		ID: "a-impossible", Kind: domain.KindGraph, Target: "overall",
		Op: domain.OpGTE, Expected: 1.1, Severity: domain.SeverityError,
	})
	runner := newTestRunner(t, map[string]*domain.Scenario{scenario.ID: scenario})

	report, err := runner.Run(context.Background(), []string{scenario.ID})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Totals.Failed)
	assert.Equal(t, StatusFailed, report.Scenarios[0].Status)
}

func TestReport_WriteJSON(t *testing.T) {
	t.Parallel()

	scenario := runnerScenario()
	runner := newTestRunner(t, map[string]*domain.Scenario{scenario.ID: scenario})

	report, err := runner.Run(context.Background(), []string{scenario.ID})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.RunID, decoded["run_id"])
	assert.Contains(t, decoded, "totals")
	assert.Contains(t, decoded, "scenarios")
}
