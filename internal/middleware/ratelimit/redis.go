package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucket refills and consumes a bucket atomically.
// KEYS[1] bucket key
// ARGV[1] refill rate in tokens per second
// ARGV[2] capacity
// ARGV[3] now, unix seconds with microsecond precision
// ARGV[4] idle expiry in seconds
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if not tokens or not ts then
    tokens = capacity
    ts = now
end

local elapsed = now - ts
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    ts = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, ttl)
return allowed
`)

// RedisLimiter is a Limiter whose buckets live in Redis so every replica
// draws from the same budget.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	rate   float64
	burst  int
	ttl    int
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing rpm requests per minute with
// the given burst.
func NewRedisLimiter(client redis.Scripter, prefix string, rpm, burst int) *RedisLimiter {
	r := float64(rpm) / 60.0
	burst = max(burst, 1)
	// keep a key until an empty bucket would be full again
	ttl := 60
	if rpm > 0 {
		ttl = burst*60/rpm + 1
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		rate:   r,
		burst:  burst,
		ttl:    ttl,
		now:    time.Now,
	}
}

// OpenRedis parses a redis:// URL and verifies the server is reachable.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// Allow consumes one token from the shared bucket.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(l.now().UnixMicro()) / 1e6
	res, err := tokenBucket.Run(ctx, l.client, []string{l.prefix + key}, l.rate, l.burst, now, l.ttl).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("redis limiter: empty reply")
		}
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}
