package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

type staticAnswers struct {
	answer ports.GeneratedAnswer
	calls  int
}

func (s *staticAnswers) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	s.calls++
	return s.answer, nil
}

func TestNewAnswerProvider_UnknownName(t *testing.T) {
	t.Parallel()

	_, err := NewAnswerProvider("telepathy", AnswerClientConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestNewAnswerProvider_RegisteredFactory(t *testing.T) {
	inner := &staticAnswers{answer: ports.GeneratedAnswer{Text: "ok", Confidence: 0.9}}
	RegisterAnswerFactory("static-test", func(config AnswerClientConfig) (ports.AnswerProvider, error) {
		return inner, nil
	})

	provider, err := NewAnswerProvider("static-test", AnswerClientConfig{})
	require.NoError(t, err)

	answer, err := provider.Generate(context.Background(), "q", &domain.Scenario{ID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer.Text)
	assert.Equal(t, 1, inner.calls)
}

func TestNewAnswerProvider_RateLimiting(t *testing.T) {
	inner := &staticAnswers{answer: ports.GeneratedAnswer{Text: "ok"}}
	RegisterAnswerFactory("limited-test", func(config AnswerClientConfig) (ports.AnswerProvider, error) {
		return inner, nil
	})

	provider, err := NewAnswerProvider("limited-test", AnswerClientConfig{RequestsPerSecond: 20})
	require.NoError(t, err)

	scenario := &domain.Scenario{ID: "s"}
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := provider.Generate(context.Background(), "q", scenario)
		require.NoError(t, err)
	}

	// Burst 1 at 20 rps: the second and third calls each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 3, inner.calls)
}

func TestBuildAnswerPrompt(t *testing.T) {
	t.Parallel()

	scenario := &domain.Scenario{
		ID:        "ckd-metformin-01",
		Narrative: "68-year-old with T2DM and eGFR 26.",
		EvidenceSources: []domain.EvidenceSource{
			{ID: "kdigo-2024", Citation: "KDIGO 2024 Clinical Practice Guideline"},
		},
		ValidStepTypes: []string{"retrieve-guideline", "apply-rule"},
	}

	prompt := buildAnswerPrompt("Should metformin be continued?", scenario)

	assert.Contains(t, prompt, "68-year-old with T2DM")
	assert.Contains(t, prompt, "kdigo-2024")
	assert.Contains(t, prompt, "retrieve-guideline")
	assert.Contains(t, prompt, "Should metformin be continued?")
	assert.Contains(t, prompt, `"confidence"`)
}

func TestParseAnswerPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    ports.GeneratedAnswer
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"answer":"discontinue metformin","evidence_refs":["kdigo-2024"],"path":["apply-rule"],"confidence":0.9}`,
			want: ports.GeneratedAnswer{
				Text:         "discontinue metformin",
				EvidenceRefs: []string{"kdigo-2024"},
				Path:         []string{"apply-rule"},
				Confidence:   0.9,
			},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"answer\":\"ok\",\"confidence\":0.5}\n```",
			want: ports.GeneratedAnswer{Text: "ok", Confidence: 0.5},
		},
		{
			name: "confidence clamped",
			raw:  `{"answer":"ok","confidence":1.7}`,
			want: ports.GeneratedAnswer{Text: "ok", Confidence: 1.0},
		},
		{
			name:    "prose instead of json",
			raw:     "I think the answer is to stop the drug.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseAnswerPayload(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ports.ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
