package ai

import (
	"context"
	"fmt"
	"strings"
)

const DefaultOpenAIModel = "gpt-4o"

type OpenAISettings struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	// BaseURL overrides the public OpenAI endpoint, e.g. for a compatible proxy.
	BaseURL string
}

type OpenAIProvider struct {
	settings OpenAISettings
	client   ChatClient
}

func NewOpenAIProvider(s OpenAISettings) (*OpenAIProvider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredential)
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultOpenAIModel
	}
	return &OpenAIProvider{
		settings: s,
		client:   newChatClient(s.APIKey, s.BaseURL),
	}, nil
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) Model() string       { return p.settings.Model }
func (p *OpenAIProvider) Preamble() []Message { return nil }

func (p *OpenAIProvider) Params() Params {
	return Params{
		MaxTokens:   p.settings.MaxTokens,
		Temperature: configured(p.settings.Temperature),
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	// top-p is not part of the OpenAI settings
	params.TopP = 0
	return complete(ctx, p.client, p.Name(), p.settings.Model, messages, params)
}
