package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/meetsync/realtime-server-go/internal/redis"
)

// fixedWindowScript increments the window counter, arming the expiry when the
// window opens. Returns {count, remaining window in ms}.
var fixedWindowScript = goredis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter keeps fixed-window counters in redis so concurrent writes from
// multiple instances are linearized by INCR. It fails open: when redis is
// unreachable the request is admitted rather than blocked on a counter-store
// outage.
type RedisLimiter struct {
	client *redisclient.Client
}

func NewRedisLimiter(client *redisclient.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	now := time.Now()
	fullKey := redisclient.RateLimitKey(key)

	result, err := fixedWindowScript.Run(ctx, l.client, []string{fullKey}, window.Milliseconds()).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}
	}
	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, allowing request")
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}
	}

	count := int(result[0])
	resetAt := now.Add(time.Duration(result[1]) * time.Millisecond)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
