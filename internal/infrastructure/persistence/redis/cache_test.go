package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/focus-league/internal/domain/league"
	"github.com/alem-hub/focus-league/internal/domain/shared"
)

// unreachable points at a closed port; tests below never reach the network.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	c := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}), "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "leaderboard:2024-03-11:2024-03-11/t03/g00", BoardKey("2024-03-11", "2024-03-11/t03/g00"))
	assert.Equal(t, "leaderboard:2024-03-11:*", BoardPattern("2024-03-11"))
	assert.Equal(t, "lock:weekly-batch", LockKey("weekly-batch"))
	assert.Equal(t, "pubsub:league.changed", ChannelLeagueChanged)

	c := NewCacheFromClient(nil, "focus-league:")
	assert.Equal(t, "focus-league:lock:weekly-batch", c.key(LockKey("weekly-batch")))
}

func TestCache_ValidatesBeforeNetwork(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Publish(ctx, "", "x"), ErrCacheKeyEmpty)
	_, err := c.DeleteMatching(ctx, "")
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	_, err = c.Lock(ctx, "", time.Second)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	_, err = c.Lock(ctx, "weekly-batch", 0)
	assert.Error(t, err)
}

func TestConfig_URLTakesPrecedence(t *testing.T) {
	opts, err := Config{URL: "redis://:pw@cache:6380/2", Host: "ignored"}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	_, err = Config{URL: "http://nope"}.options()
	assert.ErrorIs(t, err, ErrCacheConnection)

	opts, err = DefaultConfig().options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "focus-league:", DefaultConfig().Namespace)
}

func TestBoardCache_ErrorsAreRetryableKinds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bc := NewBoardCache(unreachable(t), 0)

	assert.Equal(t, DefaultBoardTTL, bc.ttl)
	assert.ErrorIs(t, bc.SetBoard(ctx, nil), ErrCacheNilValue)

	_, err := bc.GetBoard(ctx, league.Board{}.WeekStart, "g")
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.False(t, shared.IsNotFound(err))
}
