package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T, opts ...RedisOption) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, opts...), mr
}

func TestRedisCache_AppendAndTurns(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.AppendTurn(ctx, "hello", "hi"))
	require.NoError(t, c.AppendTurn(ctx, "how are you", "fine"))

	turns, err := c.Turns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].Index)
	assert.Equal(t, "how are you", turns[1].UserText)

	key := "fractflow:session:" + c.SessionID() + ":turns"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultResumeWindow, mr.TTL(key))
}

func TestRedisCache_TrimsToMaxTurns(t *testing.T) {
	c, _ := setupRedisCache(t, WithRedisMaxTurns(2), WithRedisPrefix("test"))
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, c.AppendTurn(ctx, q, q))
	}

	turns, err := c.Turns(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "b", turns[0].UserText)
	assert.Equal(t, 3, turns[1].Index)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := setupRedisCache(t, WithRedisTTL(time.Minute))
	ctx := context.Background()
	require.NoError(t, c.AppendTurn(ctx, "q", "a"))

	mr.FastForward(2 * time.Minute)

	turns, err := c.Turns(ctx)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRedisCache_SharedSession(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()
	require.NoError(t, c.AppendTurn(ctx, "remember blue", "ok"))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	other := NewRedisCache(client, WithRedisSession(c.SessionID()))

	text, err := other.GetContext(ctx, 4000)
	require.NoError(t, err)
	assert.Contains(t, text, "remember blue")
}

func TestRedisCache_Errors(t *testing.T) {
	c, mr := setupRedisCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.AppendTurn(ctx, "", ""), ErrEmptyTurn)

	mr.Close()
	assert.Error(t, c.AppendTurn(ctx, "q", "a"))
	_, err := c.GetContext(ctx, 100)
	assert.Error(t, err)
}
