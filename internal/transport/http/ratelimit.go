package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wiredm-server/internal/config"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// idle for longer than a full refill are dropped, since a new bucket would
// behave the same.
type MemoryLimiter struct {
	mu        sync.Mutex
	m         map[string]*memoryEntry
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter allows perMinute requests per key, refilled continuously.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &MemoryLimiter{
		m:     make(map[string]*memoryEntry),
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: perMinute,
		idle:  time.Minute,
		now:   time.Now,
	}
}

// Allow reports whether key has a token left.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	e, ok := l.m[key]
	if !ok {
		e = &memoryEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1), nil
}

func (l *MemoryLimiter) keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, e := range l.m {
		if now.Sub(e.lastSeen) >= l.idle {
			delete(l.m, key)
		}
	}
	l.lastSweep = now
}

// RedisLimiter counts requests per key in fixed windows shared by every
// server instance.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window, prefix: "wiredm:ratelimit:"}
}

// Allow increments the key's counter and starts its window on first use.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("incr rate limit: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("expire rate limit: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}

// newConnLimiter bounds inbound frames on one WebSocket connection. A
// non-positive rate disables the limit.
func newConnLimiter(cfg config.WSConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
}
