// Package conversation owns chat history. Every conversation is an ordered,
// append-only log of role-tagged messages keyed by an opaque id.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotFound         = errors.New("conversation not found")
	ErrConversationFull = errors.New("conversation message limit reached")
)

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// Store is the only owner of conversation history. Callers get snapshots and
// must go through Append to change a log.
type Store interface {
	// GetOrCreate resolves id to a log, creating it (seeded with seed) when it
	// does not exist yet. An empty id gets a freshly generated one.
	GetOrCreate(ctx context.Context, id string, seed []Message) (string, []Message, error)
	// Append adds msgs to the end of the log in the given order.
	Append(ctx context.Context, id string, msgs ...Message) error
	History(ctx context.Context, id string) ([]Message, error)
}

// Pinger is implemented by stores backed by an external service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewID returns a fresh conversation id.
func NewID() string {
	return uuid.NewString()
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
