package ai

import (
	"context"
	"fmt"
	"strings"
)

const (
	DefaultGitHubModelsEndpoint = "https://models.github.ai/inference"
	DefaultGitHubModelsModel    = "openai/gpt-4.1-nano"
)

type GitHubModelsSettings struct {
	Token       string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Endpoint    string
}

// GitHubModelsProvider talks to the GitHub Models inference endpoint, which
// speaks the OpenAI chat completion protocol.
type GitHubModelsProvider struct {
	settings GitHubModelsSettings
	client   ChatClient
}

func NewGitHubModelsProvider(s GitHubModelsSettings) (*GitHubModelsProvider, error) {
	if strings.TrimSpace(s.Token) == "" {
		return nil, fmt.Errorf("githubmodels: %w", ErrMissingCredential)
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultGitHubModelsModel
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		s.Endpoint = DefaultGitHubModelsEndpoint
	}
	return &GitHubModelsProvider{
		settings: s,
		client:   newChatClient(s.Token, s.Endpoint),
	}, nil
}

func (p *GitHubModelsProvider) Name() string  { return "githubmodels" }
func (p *GitHubModelsProvider) Model() string { return p.settings.Model }

func (p *GitHubModelsProvider) Preamble() []Message {
	return []Message{{Role: "system", Content: SystemPreamble}}
}

func (p *GitHubModelsProvider) Params() Params {
	return Params{
		MaxTokens:   p.settings.MaxTokens,
		Temperature: configured(p.settings.Temperature),
		TopP:        configured(p.settings.TopP),
	}
}

func (p *GitHubModelsProvider) Complete(ctx context.Context, messages []Message, params Params) (*Completion, error) {
	return complete(ctx, p.client, p.Name(), p.settings.Model, messages, params)
}
