package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// createScript marks the conversation as existing and pushes the seed only
// when this call created it, so racing creators never duplicate the preamble.
var createScript = redis.NewScript(`
local created = redis.call('SETNX', KEYS[1], ARGV[1])
if created == 1 then
	for i = 3, #ARGV do
		redis.call('RPUSH', KEYS[2], ARGV[i])
	end
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return created
`)

// appendScript returns -1 for an unknown conversation, -2 when the cap would
// be exceeded, otherwise the new length.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local max = tonumber(ARGV[1])
local n = #ARGV - 2
if max > 0 and redis.call('LLEN', KEYS[2]) + n > max then
	return -2
end
for i = 3, #ARGV do
	redis.call('RPUSH', KEYS[2], ARGV[i])
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return redis.call('LLEN', KEYS[2])
`)

// RedisStore keeps each conversation as a Redis list of JSON messages next to
// a marker key. Both keys share a sliding TTL refreshed on every write.
type RedisStore struct {
	rdb         *redis.Client
	prefix      string
	ttl         time.Duration
	maxMessages int
}

type RedisOption func(*RedisStore)

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

func WithRedisMaxMessages(n int) RedisOption {
	return func(s *RedisStore) { s.maxMessages = n }
}

func NewRedisStore(rdb *redis.Client, namespace string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "chat:conv:" + namespace + ":",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) metaKey(id string) string { return s.prefix + id + ":meta" }
func (s *RedisStore) messagesKey(id string) string { return s.prefix + id + ":messages" }

func encodeMessages(msgs []Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id string, seed []Message) (string, []Message, error) {
	if id == "" {
		id = NewID()
	}
	encoded, err := encodeMessages(seed)
	if err != nil {
		return "", nil, err
	}
	args := append([]any{time.Now().UTC().Format(time.RFC3339Nano), s.ttl.Milliseconds()}, encoded...)

	keys := []string{s.metaKey(id), s.messagesKey(id)}
	if err := createScript.Run(ctx, s.rdb, keys, args...).Err(); err != nil {
		return "", nil, fmt.Errorf("redis create conversation: %w", err)
	}

	msgs, err := s.load(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, msgs, nil
}

func (s *RedisStore) Append(ctx context.Context, id string, msgs ...Message) error {
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	args := append([]any{s.maxMessages, s.ttl.Milliseconds()}, encoded...)

	keys := []string{s.metaKey(id), s.messagesKey(id)}
	n, err := appendScript.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	switch n {
	case -1:
		return ErrNotFound
	case -2:
		return ErrConversationFull
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, id string) ([]Message, error) {
	n, err := s.rdb.Exists(ctx, s.metaKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.load(ctx, id)
}

func (s *RedisStore) load(ctx context.Context, id string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
