package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowLua increments the counter for the current window and sets its
// expiry on first use. It returns the count after incrementing.
const fixedWindowLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

// RateLimiter throttles requests per key with a fixed window counter.
type RateLimiter struct {
	c      *Client
	script *redis.Script
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per window for each key.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{c: c, script: redis.NewScript(fixedWindowLua), limit: limit, window: window}
}

// Allow counts one request for key and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixMilli() / rl.window.Milliseconds()
	k := rl.c.Key("ratelimit", key, fmt.Sprint(bucket))
	n, err := rl.script.Run(ctx, rl.c.rdb, []string{k}, rl.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return n <= int64(rl.limit), nil
}
