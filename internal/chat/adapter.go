package chat

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/chat-gateway/internal/ai"
	"github.com/suPer8Hu/chat-gateway/internal/conversation"
)

// Adapter turns a conversation history plus a new user message into a
// provider call and writes the exchange back to the store.
type Adapter struct {
	provider ai.Provider
	store    conversation.Store
	// window caps the non-system messages sent upstream; <= 0 sends everything.
	window  int
	timeout time.Duration
}

func newAdapter(p ai.Provider, s conversation.Store, window int, timeout time.Duration) *Adapter {
	return &Adapter{provider: p, store: s, window: window, timeout: timeout}
}

// Seed is the history a new conversation starts with.
func (a *Adapter) Seed() []conversation.Message {
	pre := a.provider.Preamble()
	out := make([]conversation.Message, 0, len(pre))
	for _, m := range pre {
		out = append(out, conversation.NewMessage(m.Role, m.Content))
	}
	return out
}

// Complete sends history + userText upstream. On success the user message and
// the reply are appended to the conversation together; on failure nothing is.
func (a *Adapter) Complete(ctx context.Context, conversationID string, history []conversation.Message, userText string) (string, int, error) {
	userMsg := conversation.NewMessage(conversation.RoleUser, userText)

	working := make([]ai.Message, 0, len(history)+1)
	for _, m := range history {
		working = append(working, ai.Message{Role: m.Role, Content: m.Content})
	}
	working = append(working, ai.Message{Role: userMsg.Role, Content: userMsg.Content})

	comp, err := a.call(ctx, contextWindow(working, a.window), a.provider.Params())
	if err != nil {
		return "", 0, err
	}

	assistantMsg := conversation.NewMessage(conversation.RoleAssistant, comp.Text)
	if err := a.store.Append(ctx, conversationID, userMsg, assistantMsg); err != nil {
		if errors.Is(err, conversation.ErrConversationFull) {
			return "", 0, invalidRequest("Conversation has reached its message limit", err)
		}
		return "", 0, err
	}
	return comp.Text, comp.TokensUsed, nil
}

// Trial runs a one-off completion over the preamble and text without touching
// the store.
func (a *Adapter) Trial(ctx context.Context, text string, params ai.Params) (*ai.Completion, error) {
	msgs := append(a.provider.Preamble(), ai.Message{Role: conversation.RoleUser, Content: text})
	return a.call(ctx, msgs, params)
}

func (a *Adapter) call(ctx context.Context, msgs []ai.Message, params ai.Params) (*ai.Completion, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	comp, err := a.provider.Complete(ctx, msgs, params)
	if err != nil {
		return nil, &UpstreamError{Provider: a.provider.Name(), Err: err}
	}
	return comp, nil
}

// contextWindow keeps the leading system messages and the newest n others.
func contextWindow(msgs []ai.Message, n int) []ai.Message {
	if n <= 0 {
		return msgs
	}
	head := 0
	for head < len(msgs) && msgs[head].Role == conversation.RoleSystem {
		head++
	}
	if len(msgs)-head <= n {
		return msgs
	}
	out := make([]ai.Message, 0, head+n)
	out = append(out, msgs[:head]...)
	return append(out, msgs[len(msgs)-n:]...)
}
