package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("rate limit store unavailable")

// slidingWindowScript keeps one sorted-set member per counted request, scored
// by its time in milliseconds.
//
// KEYS[1] = bucket key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = limit, ARGV[4] = member
//
// Returns {allowed, remaining, retry_after_ms}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = window
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`

var slidingWindowLua = redis.NewScript(slidingWindowScript)

// RedisLimiter applies the same rolling window as MemoryLimiter on a shared
// Redis so that all instances see one count per key.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{redis: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	res, err := slidingWindowLua.Run(ctx, l.redis,
		[]string{l.prefix + key},
		l.now().UnixMilli(), window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      limit,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
