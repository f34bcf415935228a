package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// AnswerClientConfig holds the settings an answer-provider factory needs.
type AnswerClientConfig struct {
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key" json:"-"`

	// Model selects the provider model; empty uses the provider default.
	Model string `yaml:"model" json:"model"`

	// BaseURL overrides the provider endpoint, mainly for test servers.
	BaseURL string `yaml:"base_url" json:"base_url,omitempty"`

	// RequestsPerSecond caps outbound call rate. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second,omitempty"`

	// Timeout bounds a single generation call at the HTTP client level.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// AnswerProviderFactory constructs an answer provider from configuration.
type AnswerProviderFactory func(config AnswerClientConfig) (ports.AnswerProvider, error)

var (
	answerFactoriesMu sync.RWMutex
	answerFactories   = make(map[string]AnswerProviderFactory)
)

// RegisterAnswerFactory registers a provider factory under a name.
// Provider files self-register from init so importing the package is
// enough to make them available.
func RegisterAnswerFactory(name string, factory AnswerProviderFactory) {
	answerFactoriesMu.Lock()
	defer answerFactoriesMu.Unlock()
	answerFactories[name] = factory
}

// NewAnswerProvider builds a provider by registered name. When the
// configuration sets a request rate the provider is wrapped with a
// client-side limiter so validation runs cannot trip provider quotas.
func NewAnswerProvider(name string, config AnswerClientConfig) (ports.AnswerProvider, error) {
	answerFactoriesMu.RLock()
	factory, ok := answerFactories[name]
	answerFactoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown answer provider %q", name)
	}

	provider, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s answer provider: %w", name, err)
	}

	if config.RequestsPerSecond > 0 {
		provider = &rateLimitedAnswers{
			inner:   provider,
			limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		}
	}
	return provider, nil
}

// rateLimitedAnswers throttles Generate calls with a token bucket.
type rateLimitedAnswers struct {
	inner   ports.AnswerProvider
	limiter *rate.Limiter
}

var _ ports.AnswerProvider = (*rateLimitedAnswers)(nil)

func (r *rateLimitedAnswers) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ports.GeneratedAnswer{}, ports.NewCollaboratorError("answer-provider", "rate_limit",
			fmt.Errorf("%w: %v", ports.ErrTimeout, err))
	}
	return r.inner.Generate(ctx, question, scenario)
}

// answerPayload is the JSON envelope providers are instructed to return.
type answerPayload struct {
	Answer       string   `json:"answer"`
	EvidenceRefs []string `json:"evidence_refs"`
	Path         []string `json:"path"`
	Confidence   float64  `json:"confidence"`
}

// buildAnswerPrompt renders the generation prompt: the clinical narrative,
// the declared evidence sources and step vocabulary, and the strict output
// envelope. Providers may only cite declared evidence ids.
func buildAnswerPrompt(question string, scenario *domain.Scenario) string {
	var b strings.Builder

	b.WriteString("You are a clinical decision support assistant.\n\n")
	b.WriteString("Clinical scenario:\n")
	b.WriteString(scenario.Narrative)
	b.WriteString("\n\n")

	if len(scenario.EvidenceSources) > 0 {
		b.WriteString("Available evidence sources (cite only these ids):\n")
		for _, src := range scenario.EvidenceSources {
			fmt.Fprintf(&b, "- %s: %s\n", src.ID, src.Citation)
		}
		b.WriteString("\n")
	}
	if len(scenario.ValidStepTypes) > 0 {
		b.WriteString("Valid reasoning step types:\n")
		for _, step := range scenario.ValidStepTypes {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(`Respond with a single JSON object, no prose around it: ` +
		`{"answer": "...", "evidence_refs": ["..."], "path": ["..."], "confidence": 0.0}` + "\n")
	b.WriteString("confidence is your calibrated probability in [0,1] that the answer is clinically correct.\n")
	return b.String()
}

// parseAnswerPayload decodes the provider response envelope. Providers
// wrap JSON in markdown fences often enough that stripping them here is
// cheaper than retrying.
func parseAnswerPayload(raw string) (ports.GeneratedAnswer, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var payload answerPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ports.GeneratedAnswer{}, fmt.Errorf("%w: %v", ports.ErrInvalidResponse, err)
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}

	return ports.GeneratedAnswer{
		Text:         payload.Answer,
		EvidenceRefs: payload.EvidenceRefs,
		Path:         payload.Path,
		Confidence:   payload.Confidence,
	}, nil
}
