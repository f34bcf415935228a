package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/clinigraph/verity/internal/domain"
	"github.com/clinigraph/verity/internal/ports"
)

// openAIDefaultModel is used when the configuration does not name one.
const openAIDefaultModel = "gpt-4o-mini"

func init() {
	RegisterAnswerFactory("openai", newOpenAIAnswers)
}

// openAIAnswers generates clinical answers through the OpenAI chat API.
type openAIAnswers struct {
	client *openai.Client
	model  string
}

var _ ports.AnswerProvider = (*openAIAnswers)(nil)

func newOpenAIAnswers(config AnswerClientConfig) (ports.AnswerProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai API key cannot be empty")
	}

	model := config.Model
	if model == "" {
		model = openAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &openAIAnswers{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Generate produces an answer for the question within the scenario's
// clinical context.
func (p *openAIAnswers) Generate(ctx context.Context, question string, scenario *domain.Scenario) (ports.GeneratedAnswer, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildAnswerPrompt(question, scenario),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ports.GeneratedAnswer{}, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return ports.GeneratedAnswer{}, ports.NewCollaboratorError("answer-provider", "generate",
			fmt.Errorf("%w: response contained no choices", ports.ErrInvalidResponse))
	}

	answer, err := parseAnswerPayload(resp.Choices[0].Message.Content)
	if err != nil {
		return ports.GeneratedAnswer{}, ports.NewCollaboratorError("answer-provider", "generate", err)
	}
	return answer, nil
}

// wrapError maps OpenAI API failures onto the port sentinels.
func (p *openAIAnswers) wrapError(err error) error {
	mapped := ports.ErrServiceUnavailable

	var apiErr *openai.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		mapped = ports.ErrTimeout
	case errors.As(err, &apiErr):
		switch apiErr.HTTPStatusCode {
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
