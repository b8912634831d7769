package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-gateway/internal/ai"
	"github.com/suPer8Hu/chat-gateway/internal/common"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
)

const maxConversationIDLen = 64

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type ChatResponse struct {
	Message        string    `json:"message"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokensUsed"`
}

// UsageRecorder receives one event per successful completion.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ev usage.Event) error
}

// Service is the provider-agnostic chat flow. Exactly one provider is bound
// to a Service.
type Service struct {
	provider ai.Provider
	store    conversation.Store
	adapter  *Adapter
	usage    UsageRecorder
	logger   *slog.Logger
	now      func() time.Time
}

type options struct {
	window  int
	timeout time.Duration
	usage   UsageRecorder
	logger  *slog.Logger
}

type Option func(*options)

// WithContextWindow limits how many non-system messages are sent upstream.
func WithContextWindow(n int) Option {
	return func(o *options) { o.window = n }
}

// WithCallTimeout sets a deadline on every provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *options) { o.usage = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func NewService(store conversation.Store, provider ai.Provider, opts ...Option) *Service {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		provider: provider,
		store:    store,
		adapter:  newAdapter(provider, store, o.window, o.timeout),
		usage:    o.usage,
		logger:   o.logger.With("provider", provider.Name()),
		now:      time.Now,
	}
}

func (s *Service) Provider() string { return s.provider.Name() }
func (s *Service) Model() string    { return s.provider.Model() }

func validate(req ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return invalidMessage()
	}
	if len(req.ConversationID) > maxConversationIDLen {
		return invalidRequest("conversationId is too long", nil)
	}
	return nil
}

func (s *Service) SendMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	id, history, err := s.store.GetOrCreate(ctx, req.ConversationID, s.adapter.Seed())
	if err != nil {
		return nil, err
	}

	reply, tokens, err := s.adapter.Complete(ctx, id, history, req.Message)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "chat completion successful", "conversation_id", id, "tokens_used", tokens)
	s.recordUsage(ctx, id, tokens, false)

	return &ChatResponse{
		Message:        reply,
		ConversationID: id,
		Timestamp:      s.now().UTC(),
		Model:          s.provider.Model(),
		TokensUsed:     tokens,
	}, nil
}

// IsHealthy runs a tiny trial completion. It never returns an error.
func (s *Service) IsHealthy(ctx context.Context) bool {
	comp, err := s.adapter.Trial(ctx, "Hello", ai.Params{MaxTokens: 5, Temperature: 0.1, TopP: 1.0})
	if err != nil {
		s.logger.WarnContext(ctx, "health check failed", "error", err)
		return false
	}
	return comp.Text != ""
}

// TestMessage is a diagnostic one-off completion. It bypasses conversation
// history and echoes the caller's conversation id as given.
func (s *Service) TestMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	comp, err := s.adapter.Trial(ctx, req.Message, ai.Params{Temperature: 1.0, TopP: 1.0})
	if err != nil {
		return nil, err
	}
	s.recordUsage(ctx, req.ConversationID, comp.TokensUsed, true)

	return &ChatResponse{
		Message:        comp.Text,
		ConversationID: req.ConversationID,
		Timestamp:      s.now().UTC(),
		Model:          s.provider.Model(),
		TokensUsed:     comp.TokensUsed,
	}, nil
}

func (s *Service) recordUsage(ctx context.Context, conversationID string, tokens int, diagnostic bool) {
	if s.usage == nil {
		return
	}
	id, err := common.NewULID()
	if err != nil {
		s.logger.WarnContext(ctx, "usage event id", "error", err)
		return
	}
	ev := usage.Event{
		ID:             id,
		Provider:       s.provider.Name(),
		Model:          s.provider.Model(),
		ConversationID: conversationID,
		TokensUsed:     tokens,
		Diagnostic:     diagnostic,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.usage.RecordUsage(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "record usage failed", "conversation_id", conversationID, "error", err)
	}
}
