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

// stubAnswerProvider returns a canned answer, optionally after a delay.
type stubAnswerProvider struct {
	answer ports.GeneratedAnswer
	err    error
	delay  time.Duration
}

func (s *stubAnswerProvider) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ports.GeneratedAnswer{}, ctx.Err()
		}
	}
	if s.err != nil {
		return ports.GeneratedAnswer{}, s.err
	}
	return s.answer, nil
}

func answerScenario() *domain.Scenario {
	return &domain.Scenario{
		ID:     "ckd-metformin-01",
		Domain: "nephrology",
		EvidenceSources: []domain.EvidenceSource{
			{ID: "kdigo-2024", Citation: "KDIGO 2024 Clinical Practice Guideline"},
			{ID: "ada-soc-11", Citation: "ADA Standards of Care, ch. 11"},
		},
		ValidStepTypes:  []string{"retrieve-guideline", "apply-rule", "cite-evidence"},
		RequiredPhrases: []string{"discontinue metformin", "eGFR below 30"},
	}
}

func newAnswerValidator(t *testing.T, provider ports.AnswerProvider, config AnswerConfig) *AnswerValidator {
	t.Helper()
	av, err := NewAnswerValidator("answer", config, provider, NewContainsMatcher())
	require.NoError(t, err)
	return av
}

func TestNewAnswerValidator_Validation(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{}

	_, err := NewAnswerValidator("", DefaultAnswerConfig(), provider, NewContainsMatcher())
	assert.ErrorIs(t, err, ErrEmptyEvaluatorName)

	_, err = NewAnswerValidator("answer", DefaultAnswerConfig(), nil, NewContainsMatcher())
	assert.ErrorIs(t, err, ErrNilCollaborator)

	_, err = NewAnswerValidator("answer", DefaultAnswerConfig(), provider, nil)
	assert.ErrorIs(t, err, ErrNilCollaborator)
}

func TestAnswerValidator_CorrectCalibratedAnswer(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{
		answer: ports.GeneratedAnswer{
			Text:         "Discontinue metformin because the eGFR below 30 threshold is met.",
			EvidenceRefs: []string{"kdigo-2024"},
			Path:         []string{"retrieve-guideline", "apply-rule", "cite-evidence"},
			Confidence:   0.92,
		},
	}
	av := newAnswerValidator(t, provider, DefaultAnswerConfig())

	result := av.Validate(context.Background(), answerScenario(), "Should metformin be continued?")

	require.Nil(t, result.Failure)
	assert.InDelta(t, 1.0, result.Correctness, domain.FloatEpsilon)
	assert.Empty(t, result.MissingPhrases)
	assert.True(t, result.PathValid)
	assert.False(t, result.Miscalibrated)
	assert.GreaterOrEqual(t, result.LatencyMs, int64(0))
}

func TestAnswerValidator_MissingPhrases(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{
		answer: ports.GeneratedAnswer{
			Text:       "Continue current therapy and recheck labs in three months.",
			Confidence: 0.4,
		},
	}
	av := newAnswerValidator(t, provider, DefaultAnswerConfig())

	result := av.Validate(context.Background(), answerScenario(), "Should metformin be continued?")

	require.Nil(t, result.Failure)
	assert.Zero(t, result.Correctness)
	assert.ElementsMatch(t, []string{"discontinue metformin", "eGFR below 30"}, result.MissingPhrases)
	assert.False(t, result.Miscalibrated, "a hedged wrong answer is not miscalibrated")
}

func TestAnswerValidator_Miscalibration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		confidence float64
		want       bool
	}{
		{
			name:       "overconfident wrong answer",
			text:       "No change needed.",
			confidence: 0.95,
			want:       true,
		},
		{
			name:       "underconfident correct answer",
			text:       "Discontinue metformin: eGFR below 30.",
			confidence: 0.2,
			want:       true,
		},
		{
			name:       "confident correct answer",
			text:       "Discontinue metformin: eGFR below 30.",
			confidence: 0.9,
			want:       false,
		},
		{
			name:       "hedged wrong answer",
			text:       "No change needed.",
			confidence: 0.3,
			want:       false,
		},
		{
			name:       "confident partially correct answer",
			text:       "Discontinue metformin.",
			confidence: 0.95,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := &stubAnswerProvider{
				answer: ports.GeneratedAnswer{Text: tt.text, Confidence: tt.confidence},
			}
			av := newAnswerValidator(t, provider, DefaultAnswerConfig())

			result := av.Validate(context.Background(), answerScenario(), "q")
			require.Nil(t, result.Failure)
			assert.Equal(t, tt.want, result.Miscalibrated)
		})
	}
}

func TestAnswerValidator_UnresolvedEvidence(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{
		answer: ports.GeneratedAnswer{
			Text:         "Discontinue metformin: eGFR below 30.",
			EvidenceRefs: []string{"kdigo-2024", "uptodate-internal"},
			Confidence:   0.9,
		},
	}
	av := newAnswerValidator(t, provider, DefaultAnswerConfig())

	result := av.Validate(context.Background(), answerScenario(), "q")

	require.NotNil(t, result.Failure, "an unverifiable citation fails validation outright")
	assert.Equal(t, domain.FailureUnresolvedEvidence, result.Failure.Code)
	assert.False(t, result.Failure.Retryable)
	assert.Contains(t, result.Failure.Message, "uptodate-internal")
	assert.Zero(t, result.Correctness, "no partial credit past a hard failure")
}

func TestAnswerValidator_InvalidPath(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{
		answer: ports.GeneratedAnswer{
			Text:       "Discontinue metformin: eGFR below 30.",
			Path:       []string{"retrieve-guideline", "guess"},
			Confidence: 0.9,
		},
	}
	av := newAnswerValidator(t, provider, DefaultAnswerConfig())

	result := av.Validate(context.Background(), answerScenario(), "q")

	require.Nil(t, result.Failure)
	assert.False(t, result.PathValid)
	assert.InDelta(t, 1.0, result.Correctness, domain.FloatEpsilon,
		"path validity is scored independently of phrase coverage")
}

func TestAnswerValidator_ProviderDown(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{err: ports.ErrServiceUnavailable}
	av := newAnswerValidator(t, provider, DefaultAnswerConfig())

	result := av.Validate(context.Background(), answerScenario(), "q")

	require.NotNil(t, result.Failure)
	assert.Equal(t, domain.FailureAnswerProviderUnavailable, result.Failure.Code)
	assert.True(t, result.Failure.Retryable)
}

func TestAnswerValidator_Timeout(t *testing.T) {
	t.Parallel()

	provider := &stubAnswerProvider{
		answer: ports.GeneratedAnswer{Text: "Discontinue metformin: eGFR below 30."},
		delay:  50 * time.Millisecond,
	}
	config := AnswerConfig{CallTimeout: 5 * time.Millisecond}
	av := newAnswerValidator(t, provider, config)

	result := av.Validate(context.Background(), answerScenario(), "q")

	require.Nil(t, result.Failure, "a timeout degrades the result instead of failing it")
	assert.True(t, result.TimedOut)
	assert.Zero(t, result.Correctness)
	assert.Empty(t, result.Answer)
}
