package evaluators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// stubReasoningProvider returns canned concept matches, optionally after a
// delay so timeout behavior can be exercised.
type stubReasoningProvider struct {
	matches []ports.ConceptMatch
	err     error
	delay   time.Duration
}

func (s *stubReasoningProvider) MatchConcepts(ctx context.Context, query string, topK int) ([]ports.ConceptMatch, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.matches) > topK {
		return s.matches[:topK], nil
	}
	return s.matches, nil
}

func guidelineScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:     "ckd-metformin-01",
		Domain: "nephrology",
		Facts: map[string]string{
			"egfr_band":  "below-30",
			"medication": "metformin",
		},
		ExpectedOutcomes: []string{
			"discontinue metformin",
			"assess alternative glycemic control",
		},
		Rules: []domain.Rule{
			{
				ID:           "r-metformin-egfr",
				When:         map[string]string{"egfr_band": "below-30", "medication": "metformin"},
				Then:         "discontinue metformin",
				GuidelineRef: "kdigo-2024-s4.3",
				ExpectFire:   true,
			},
			{
				ID:           "r-alt-glycemic",
				When:         map[string]string{"medication": "metformin"},
				Then:         "assess alternative glycemic control",
				GuidelineRef: "kdigo-2024-s4.4",
				ExpectFire:   true,
			},
			{
				ID:         "r-dose-reduce",
				When:       map[string]string{"egfr_band": "30-45"},
				Then:       "reduce metformin dose",
				ExpectFire: false,
			},
		},
		Query:            "metformin use in advanced chronic kidney disease",
		ExpectedConcepts: []string{"metformin", "ckd-stage-4", "lactic-acidosis"},
	}
}

func TestNewReasoningEvaluator_Validation(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{}

	_, err := NewReasoningEvaluator("", DefaultReasoningConfig(), provider)
	assert.ErrorIs(t, err, ErrEmptyEvaluatorName)

	_, err = NewReasoningEvaluator("reasoning", ReasoningConfig{TopK: 0}, provider)
	assert.Error(t, err, "top_k must be at least 1")

	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), provider)
	require.NoError(t, err)
	assert.Equal(t, "reasoning", re.Name())
}

func TestReasoningEvaluator_Symbolic(t *testing.T) {
	t.Parallel()

	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), nil)
	require.NoError(t, err)

	result := re.Symbolic(context.Background(), guidelineScenario())

	require.Nil(t, result.Failure)
	assert.Equal(t, domain.StrategySymbolic, result.Strategy)
	assert.InDelta(t, 1.0, result.Accuracy, domain.FloatEpsilon,
		"every rule fired as expected")
	assert.InDelta(t, 1.0, result.Confidence, domain.FloatEpsilon)
	assert.Equal(t, []string{
		"rule-fired:r-metformin-egfr",
		"rule-fired:r-alt-glycemic",
		"rule-skipped:r-dose-reduce",
	}, result.Path)
}

func TestReasoningEvaluator_SymbolicUnexpectedFire(t *testing.T) {
	t.Parallel()

	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), nil)
	require.NoError(t, err)

	scenario := guidelineScenario()
	scenario.Rules[2].ExpectFire = true // declared to fire but its facts do not match

	result := re.Symbolic(context.Background(), scenario)

	require.Nil(t, result.Failure)
	assert.InDelta(t, 2.0/3.0, result.Accuracy, domain.FloatEpsilon)
}

func TestReasoningEvaluator_SymbolicNoRules(t *testing.T) {
	t.Parallel()

	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), nil)
	require.NoError(t, err)

	result := re.Symbolic(context.Background(), &domain.Scenario{ID: "empty"})

	require.NotNil(t, result.Failure)
	assert.Equal(t, domain.FailureInvalidScenario, result.Failure.Code)
	assert.False(t, result.Failure.Retryable)
}

func TestReasoningEvaluator_Neural(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{
		matches: []ports.ConceptMatch{
			{ConceptID: "metformin", Similarity: 0.93},
			{ConceptID: "ckd-stage-4", Similarity: 0.88},
			{ConceptID: "hemodialysis", Similarity: 0.41},
		},
	}
	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), provider)
	require.NoError(t, err)

	result := re.Neural(context.Background(), guidelineScenario())

	require.Nil(t, result.Failure)
	assert.Equal(t, domain.StrategyNeural, result.Strategy)
	assert.InDelta(t, 2.0/3.0, result.Accuracy, domain.FloatEpsilon,
		"two of three expected concepts matched")
	assert.InDelta(t, 0.93, result.Confidence, domain.FloatEpsilon,
		"confidence is the top match similarity")
	assert.Contains(t, result.Path, "concept:metformin")
}

func TestReasoningEvaluator_NeuralProviderDown(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{err: ports.ErrServiceUnavailable}
	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), provider)
	require.NoError(t, err)

	result := re.Neural(context.Background(), guidelineScenario())

	require.NotNil(t, result.Failure)
	assert.Equal(t, domain.FailureReasoningProviderUnavailable, result.Failure.Code)
	assert.True(t, result.Failure.Retryable)
	assert.Zero(t, result.Accuracy)
}

func TestReasoningEvaluator_NeuralTimeout(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{
		matches: []ports.ConceptMatch{{ConceptID: "metformin", Similarity: 0.9}},
		delay:   50 * time.Millisecond,
	}
	config := DefaultReasoningConfig()
	config.CallTimeout = 5 * time.Millisecond
	re, err := NewReasoningEvaluator("reasoning", config, provider)
	require.NoError(t, err)

	result := re.Neural(context.Background(), guidelineScenario())

	require.Nil(t, result.Failure, "a timeout degrades the result instead of failing it")
	assert.True(t, result.TimedOut)
	assert.Zero(t, result.Accuracy)
}

func TestReasoningEvaluator_HybridWeightsGuidelineLogic(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{
		matches: []ports.ConceptMatch{
			{ConceptID: "metformin", Similarity: 0.9},
		},
	}
	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), provider)
	require.NoError(t, err)

	// Every expected outcome is concluded by a guideline-cited rule, so the
	// combined score must be dominated by the symbolic path.
	result := re.Hybrid(context.Background(), guidelineScenario())

	require.Nil(t, result.Failure)
	assert.Equal(t, domain.StrategyHybrid, result.Strategy)
	assert.GreaterOrEqual(t, result.SymbolicWeight, 0.7)
	assert.InDelta(t, 0.85, result.SymbolicWeight, domain.FloatEpsilon)

	wantAccuracy := 0.85*1.0 + 0.15*(1.0/3.0)
	assert.InDelta(t, wantAccuracy, result.Accuracy, domain.FloatEpsilon)
}

func TestReasoningEvaluator_HybridProviderDown(t *testing.T) {
	t.Parallel()

	provider := &stubReasoningProvider{err: ports.ErrServiceUnavailable}
	re, err := NewReasoningEvaluator("reasoning", DefaultReasoningConfig(), provider)
	require.NoError(t, err)

	result := re.Hybrid(context.Background(), guidelineScenario())

	require.NotNil(t, result.Failure)
	assert.Equal(t, domain.FailureReasoningProviderUnavailable, result.Failure.Code)
	assert.True(t, result.Failure.Retryable)
}

func TestSymbolicWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		coverage float64
		want     float64
	}{
		{name: "no coverage leans neural", coverage: 0, want: 0.15},
		{name: "half coverage", coverage: 0.5, want: 0.5},
		{name: "full coverage dominated by rules", coverage: 1, want: 0.85},
		{name: "clamped below", coverage: -0.2, want: 0.15},
		{name: "clamped above", coverage: 1.7, want: 0.85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, SymbolicWeight(tt.coverage), domain.FloatEpsilon)
		})
	}
}
