// Package ai wraps the OpenAI-compatible chat completion endpoints the
// gateway forwards to.
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// SystemPreamble is the fixed system message some providers seed new
// conversations with.
const SystemPreamble = "You are a helpful assistant."

var (
	// ErrMissingCredential is returned at construction time when a provider
	// has no credential configured.
	ErrMissingCredential = errors.New("ai: credential is not configured")
	ErrEmptyCompletion   = errors.New("ai: provider returned no choices")
)

type Message struct {
	Role    string
	Content string
}

// Params are generation parameters. Zero values are omitted from the request.
type Params struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
}

type Completion struct {
	Text       string
	TokensUsed int
}

type Provider interface {
	Name() string
	Model() string
	// Preamble is the history a brand-new conversation starts with.
	Preamble() []Message
	// Params are the configured generation parameters for normal chat.
	Params() Params
	Complete(ctx context.Context, messages []Message, params Params) (*Completion, error)
}

// ChatClient is the part of *openai.Client the providers use.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// configured keeps a configured 0 on the wire. go-openai omits zero
// temperature and top-p, which makes the upstream fall back to its default.
func configured(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func newChatClient(credential, baseURL string) ChatClient {
	cfg := openai.DefaultConfig(credential)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

func complete(ctx context.Context, client ChatClient, name, model string, messages []Message, params Params) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Messages: func() []openai.ChatCompletionMessage {
			out := make([]openai.ChatCompletionMessage, 0, len(messages))
			for _, m := range messages {
				out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyCompletion)
	}
	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
