package http

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm-server/internal/config"
)

func TestMemoryLimiterPerKey(t *testing.T) {
	l := NewMemoryLimiter(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		require.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = l.Allow(ctx, "user:2")
	require.NoError(t, err)
	require.True(t, ok, "keys are independent")
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	l := NewMemoryLimiter(2)
	clock := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := l.Allow(ctx, uuid.NewString())
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 101, l.keys())

	clock = clock.Add(30 * time.Second)
	ok, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, ok, "one token refilled after half a minute")
	require.Equal(t, 101, l.keys())

	clock = clock.Add(45 * time.Second)
	_, err = l.Allow(ctx, "user:2")
	require.NoError(t, err)
	require.Equal(t, 2, l.keys(), "keys idle past a full refill are dropped")

	clock = clock.Add(2 * time.Minute)
	_, err = l.Allow(ctx, "user:3")
	require.NoError(t, err)
	require.Equal(t, 1, l.keys())
}

func TestConnLimiter(t *testing.T) {
	unlimited := newConnLimiter(config.WSConfig{})
	for i := 0; i < 1000; i++ {
		require.True(t, unlimited.Allow())
	}

	limited := newConnLimiter(config.WSConfig{RatePerSecond: 0.001, Burst: 2})
	require.True(t, limited.Allow())
	require.True(t, limited.Allow())
	require.False(t, limited.Allow())
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("WIREDM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WIREDM_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLimiter(client, 2, time.Minute)
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, l.prefix+key) })

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	ttl, err := client.TTL(ctx, l.prefix+key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestRedisLimiterFailsOpenInMiddleware(t *testing.T) {
	// nothing listens on this port, so every check errors
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, withLimiter(NewRedisLimiter(client, 1, time.Minute)))
	token, _ := env.register(t, "alice")

	for i := 0; i < 3; i++ {
		require.Equal(t, 200, env.do(t, "GET", "/api/me", token, nil, nil))
	}
}
