package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/aristath/devflow/internal/state"
)

// ModelLLM adapts a langchaingo model to the LLM interface.
type ModelLLM struct {
	model llms.Model
}

// NewLLM constructs a model client for the given provider. Supported
// providers: "openai" (default) and "anthropic".
func NewLLM(provider, model, apiKey string) (*ModelLLM, error) {
	switch provider {
	case "", "openai":
		var opts []openai.Option
		if model != "" {
			opts = append(opts, openai.WithModel(model))
		}
		if apiKey != "" {
			opts = append(opts, openai.WithToken(apiKey))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		return &ModelLLM{model: m}, nil

	case "anthropic":
		var opts []anthropic.Option
		if model != "" {
			opts = append(opts, anthropic.WithModel(model))
		}
		if apiKey != "" {
			opts = append(opts, anthropic.WithToken(apiKey))
		}
		m, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		return &ModelLLM{model: m}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// Generate sends the message sequence to the model and returns the first
// choice's text.
func (l *ModelLLM) Generate(ctx context.Context, messages []state.Message) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = schema.ChatMessageTypeSystem
		case "assistant":
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Text))
	}

	resp, err := l.model.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}
