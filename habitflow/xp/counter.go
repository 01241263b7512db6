package xp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"

	"github.com/strivelab/habit-flow/habitflow/cache"
)

// cappedIncrScript reads, caps and increments in one atomic round
// trip. A read-then-write from the client would race under concurrent
// same-user awards.
var cappedIncrScript = redis.NewScript(`
local current = tonumber(redis.call('get', KEYS[1]) or '0')
local cap = tonumber(ARGV[1])
local inc = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local available = cap - current
if available <= 0 then
    return 0
end
if inc > available then
    inc = available
end
redis.call('incrby', KEYS[1], inc)
redis.call('expire', KEYS[1], ttl)
return inc
`)

// Counter implements the atomic capped increment over Redis, with an
// in-process LRU fallback when the cache is unreachable. The fallback
// stays capped but is only best-effort across processes.
type Counter struct {
	redis *cache.Redis

	mu    sync.Mutex
	local *lru.Cache
}

type localEntry struct {
	value   int64
	expires time.Time
}

func NewCounter(r *cache.Redis) *Counter {
	local, _ := lru.New(4096)
	return &Counter{redis: r, local: local}
}

// IncrementCapped applies min(amount, cap−current) to the counter at
// key and returns the applied portion. Zero means the cap is already
// reached, which callers treat as "nothing to award", not an error.
func (c *Counter) IncrementCapped(ctx context.Context, key string, amount, limit int64, ttl time.Duration) int64 {
	if amount <= 0 || limit <= 0 {
		return 0
	}

	if c.redis != nil {
		applied, err := cappedIncrScript.Run(ctx, c.redis.Client(),
			[]string{key}, limit, amount, int64(ttl.Seconds())).Int64()
		if err == nil {
			return applied
		}
		slog.Warn("Capped counter falling back to local cache",
			slog.String("key", key),
			slog.Any("error", err))
	}

	return c.incrementLocal(key, amount, limit, ttl)
}

func (c *Counter) incrementLocal(key string, amount, limit int64, ttl time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var current int64
	if v, ok := c.local.Get(key); ok {
		entry := v.(localEntry)
		if entry.expires.After(now) {
			current = entry.value
		}
	}

	available := limit - current
	if available <= 0 {
		return 0
	}
	applied := amount
	if applied > available {
		applied = available
	}
	c.local.Add(key, localEntry{value: current + applied, expires: now.Add(ttl)})
	return applied
}
