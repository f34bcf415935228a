package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// anthropicDefaultModel is used when the configuration does not name one.
const anthropicDefaultModel = "claude-3-5-sonnet-20241022"

// anthropicMaxTokens bounds generated answer length. Clinical answers are
// short; the envelope never needs more.
const anthropicMaxTokens = 1024

func init() {
	RegisterAnswerFactory("anthropic", newAnthropicAnswers)
}

// anthropicAnswers generates clinical answers through the Anthropic
// Messages API.
type anthropicAnswers struct {
	client anthropic.Client
	model  string
}

var _ ports.AnswerProvider = (*anthropicAnswers)(nil)

func newAnthropicAnswers(config AnswerClientConfig) (ports.AnswerProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic API key cannot be empty")
	}

	model := config.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	return &anthropicAnswers{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Generate produces an answer for the question within the scenario's
// clinical context.
func (p *anthropicAnswers) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildAnswerPrompt(question, scenario))),
		},
	})
	if err != nil {
		return ports.GeneratedAnswer{}, p.wrapError(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return ports.GeneratedAnswer{}, ports.NewCollaboratorError("answer-provider", "generate",
			fmt.Errorf("%w: response contained no text blocks", ports.ErrInvalidResponse))
	}

	answer, err := parseAnswerPayload(text.String())
	if err != nil {
		return ports.GeneratedAnswer{}, ports.NewCollaboratorError("answer-provider", "generate", err)
	}
	return answer, nil
}

// wrapError maps Anthropic API failures onto the port sentinels.
func (p *anthropicAnswers) wrapError(err error) error {
	mapped := ports.ErrServiceUnavailable

	var apiErr *anthropic.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		mapped = ports.ErrTimeout
	case errors.As(err, &apiErr):
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			mapped = ports.ErrRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			mapped = ports.ErrAuthenticationFailed
		case http.StatusBadRequest, http.StatusNotFound:
			mapped = ports.ErrInvalidResponse
		}
	}

	return ports.NewCollaboratorError("answer-provider", "generate",
		fmt.Errorf("%w: %v", mapped, err))
}
