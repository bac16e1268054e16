package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "fractflow"

// RedisCache keeps a session's turns in a Redis list. Each append trims the
// list to maxTurns and refreshes the TTL.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	maxTurns  int
	sessionID string
	now       func() time.Time
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithRedisTTL sets the key expiry. Zero disables expiry.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

// WithRedisPrefix sets the key prefix. Default is "fractflow".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithRedisMaxTurns bounds the stored list.
func WithRedisMaxTurns(n int) RedisOption {
	return func(c *RedisCache) { c.maxTurns = n }
}

// WithRedisSession continues an existing session id.
func WithRedisSession(id string) RedisOption {
	return func(c *RedisCache) { c.sessionID = id }
}

// NewRedisCache creates a Redis-backed cache.
//
// Example:
//
//	cache := NewRedisCache(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithRedisTTL(24 * time.Hour),
//	)
func NewRedisCache(client *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client:   client,
		prefix:   defaultRedisPrefix,
		ttl:      DefaultResumeWindow,
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxTurns <= 0 {
		c.maxTurns = DefaultMaxTurns
	}
	if c.sessionID == "" {
		c.sessionID = NewSessionID(c.now())
	}
	return c
}

// SessionID implements Cache.
func (c *RedisCache) SessionID() string { return c.sessionID }

// AppendTurn implements Cache. The turn index comes from an INCR counter so
// concurrent writers never reuse one.
func (c *RedisCache) AppendTurn(ctx context.Context, userText, aiText string) error {
	if _, err := newTurn(0, userText, aiText, c.now()); err != nil {
		return err
	}

	idx, err := c.client.Incr(ctx, c.counterKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr failed: %w", err)
	}
	t, _ := newTurn(int(idx), userText, aiText, c.now())
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := c.turnsKey()
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-c.maxTurns), -1)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
		pipe.Expire(ctx, c.counterKey(), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Turns implements Cache.
func (c *RedisCache) Turns(ctx context.Context) ([]Turn, error) {
	raw, err := c.client.LRange(ctx, c.turnsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, s := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// GetContext implements Cache.
func (c *RedisCache) GetContext(ctx context.Context, maxChars int) (string, error) {
	turns, err := c.Turns(ctx)
	if err != nil {
		return "", err
	}
	return BuildContext(turns, maxChars), nil
}

// Close implements Cache. The client is owned by the caller.
func (c *RedisCache) Close() error { return nil }

func (c *RedisCache) turnsKey() string {
	return fmt.Sprintf("%s:session:%s:turns", c.prefix, c.sessionID)
}

func (c *RedisCache) counterKey() string {
	return fmt.Sprintf("%s:session:%s:seq", c.prefix, c.sessionID)
}
