package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EndpointLimiter enforces a sliding-window request cap per (path, user)
// pair on the API's mutating endpoints. There is exactly one operation
// here — check-and-reserve — because that is the only thing the HTTP
// middleware needs; it is not a general-purpose rate limiting library.
type EndpointLimiter struct {
	rdb redis.UniversalClient
}

func NewEndpointLimiter(rdb redis.UniversalClient) *EndpointLimiter {
	return &EndpointLimiter{rdb: rdb}
}

// LimitResult reports whether a request was admitted under the window.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// slidingWindowScript atomically evicts expired entries, counts the
// window, and reserves the new request in one round trip — the
// reserve-and-count must not race across concurrent requests on the
// same key.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

local window_start = now - window
redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local current_count = redis.call('ZCARD', key)
if current_count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry_after = 0
    if oldest[2] then
        retry_after = oldest[2] + window - now
    end
    return {0, limit - current_count, retry_after}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, limit - current_count - 1, 0}
`

// Allow checks whether a request against key is admitted under limit
// requests per window, reserving it if so.
func (l *EndpointLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*LimitResult, error) {
	now := time.Now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := fmt.Sprintf("%d:%d", nowMs, now.UnixNano())

	result, err := l.rdb.Eval(ctx, slidingWindowScript, []string{key}, nowMs, windowMs, limit, member).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	arr, ok := result.([]interface{})
	if !ok || len(arr) < 3 {
		return nil, fmt.Errorf("unexpected rate limit response format")
	}

	allowed, _ := arr[0].(int64)
	remaining, _ := arr[1].(int64)
	retryAfterMs, _ := arr[2].(int64)

	return &LimitResult{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}, nil
}
