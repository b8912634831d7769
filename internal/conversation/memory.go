package conversation

import (
	"context"
	"sync"
	"time"
)

type messageLog struct {
	mu       sync.Mutex
	messages []Message
	lastUsed time.Time
	// evicted is set by Sweep; an evicted log accepts no further writes.
	evicted bool
}

func (l *messageLog) snapshot(now time.Time) ([]Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.evicted {
		return nil, false
	}
	l.lastUsed = now
	return cloneMessages(l.messages), true
}

// MemoryStore keeps conversations in process memory. The index lock is held
// only to find or insert a log; appends lock the single log they touch.
type MemoryStore struct {
	mu          sync.RWMutex
	logs        map[string]*messageLog
	maxMessages int
	idleTTL     time.Duration
	now         func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithMaxMessages caps the number of messages a single conversation may hold.
// Zero or less means unlimited.
func WithMaxMessages(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxMessages = n }
}

// WithIdleTTL makes Sweep drop conversations untouched for longer than ttl.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = ttl }
}

func withClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		logs: make(map[string]*messageLog),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) lookup(id string) (*messageLog, bool) {
	s.mu.RLock()
	l, ok := s.logs[id]
	s.mu.RUnlock()
	return l, ok
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, id string, seed []Message) (string, []Message, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if id == "" {
		id = NewID()
	}
	now := s.now()

	if l, ok := s.lookup(id); ok {
		if msgs, live := l.snapshot(now); live {
			return id, msgs, nil
		}
	}

	for {
		s.mu.Lock()
		l, ok := s.logs[id]
		if !ok {
			l = &messageLog{messages: cloneMessages(seed), lastUsed: now}
			s.logs[id] = l
		}
		s.mu.Unlock()

		if msgs, live := l.snapshot(now); live {
			return id, msgs, nil
		}
	}
}

func (s *MemoryStore) Append(ctx context.Context, id string, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	return s.appendTo(l, msgs)
}

func (s *MemoryStore) appendTo(l *messageLog, msgs []Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.evicted {
		return ErrNotFound
	}
	if s.maxMessages > 0 && len(l.messages)+len(msgs) > s.maxMessages {
		return ErrConversationFull
	}
	l.messages = append(l.messages, msgs...)
	l.lastUsed = s.now()
	return nil
}

func (s *MemoryStore) History(ctx context.Context, id string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	msgs, live := l.snapshot(s.now())
	if !live {
		return nil, ErrNotFound
	}
	return msgs, nil
}

// Len reports the number of live conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Sweep evicts idle conversations and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, l := range s.logs {
		l.mu.Lock()
		idle := l.lastUsed.Before(cutoff)
		if idle {
			l.evicted = true
		}
		l.mu.Unlock()
		if idle {
			delete(s.logs, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle conversations until ctx is cancelled. It returns
// immediately when no idle TTL is configured.
func (s *MemoryStore) Run(ctx context.Context) {
	if s.idleTTL <= 0 {
		return
	}
	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
