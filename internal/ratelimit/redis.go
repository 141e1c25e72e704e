package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmehdipour/label-dispatch/internal/util"
)

// Prune, count and conditionally add in one round trip so concurrent callers
// on the same key cannot both see the last free slot.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local allowed = 0
if count < limit then
    redis.call("ZADD", key, now, member)
    count = count + 1
    allowed = 1
end
redis.call("PEXPIRE", key, window)

local reset = now + window
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if oldest[2] then
    reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`

type RedisLimiter struct {
	rdb    redis.Scripter
	prefix string
	script *redis.Script
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.Scripter, prefix string) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, fmt.Errorf("rate limit %s: max and window must be positive", key)
	}
	now := l.now().UnixMilli()

	res, err := l.script.Run(ctx, l.rdb, []string{l.prefix + key},
		now, window.Milliseconds(), limit, util.NewID()).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}

	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	reset, _ := res[2].(int64)

	return Decision{
		Allowed:   allowed == 1,
		Remaining: max(0, limit-int(count)),
		Limit:     limit,
		ResetAt:   time.UnixMilli(reset),
	}, nil
}
