package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments a fixed-window counter unless it is already at the limit.
// Returns {allowed, count, pttl}.
var hitScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if limit <= 0 or current >= limit then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then ttl = window end
  return {0, current, ttl}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], window)
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {1, current, ttl}
`)

// RedisStore shares counters between gateway instances. Redis key expiry
// replaces the in-process sweep.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb redis.Scripter) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ratelimit", now: time.Now}
}

func (s *RedisStore) Hit(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	redisKey := fmt.Sprintf("%s:%s:%d", s.prefix, key, window.Milliseconds())

	vals, err := hitScript.Run(ctx, s.rdb, []string{redisKey}, maxRequests, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis hit: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply of length %d", len(vals))
	}

	allowed := vals[0] == 1
	count := int(vals[1])
	resetAt := s.now().Add(time.Duration(vals[2]) * time.Millisecond)

	remaining := 0
	if allowed {
		remaining = maxRequests - count
	}
	return Result{Allowed: allowed, Limit: maxRequests, Remaining: remaining, ResetAt: resetAt}, nil
}
