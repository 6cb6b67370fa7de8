package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-3.5-turbo"

// OpenAIConfig configures an OpenAIProvider. BaseURL may point at any
// OpenAI-compatible endpoint; empty means the public API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider implements Provider on top of the chat completions API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider builds a provider. The SDK's own retries are switched
// off; retrying is the job of WithRetry so attempts are counted in one place.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the model name sent with every request.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends messages and returns the content of the first choice.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: buildMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}

func buildMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}
