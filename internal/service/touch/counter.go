package touch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowCounter is an atomic trailing-window slot counter. Reserve admits
// member while the larger of the window's size and observed is below limit.
// Reserving a member that already holds a slot succeeds
// without consuming another one.
type WindowCounter interface {
	Reserve(ctx context.Context, key, member string, limit int, window time.Duration, observed int) (bool, error)
	Release(ctx context.Context, key, member string) error
}

// CounterKey returns the window counter key for a contact and scope. The
// scope is a channel name or "total".
func CounterKey(contactID, scope string) string {
	return fmt.Sprintf("compliance:touches:%s:%s", contactID, scope)
}

// Lua script for an atomic sliding-window reservation.
// observed is the caller's database count; the effective count never drops
// below it, so a cold or flushed Redis cannot undercount.
const reserveLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local observed = tonumber(ARGV[5])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

if redis.call("ZSCORE", key, member) then
    return {1, redis.call("ZCARD", key)}
end

local current = redis.call("ZCARD", key)
if observed > current then
    current = observed
end
if current >= limit then
    return {0, current}  -- denied
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, current + 1}  -- allowed
`

// RedisWindowCounter implements WindowCounter with a sorted set per key,
// scored by reservation time in milliseconds.
type RedisWindowCounter struct {
	redis         *redis.Client
	reserveScript *redis.Script
	now           func() time.Time
}

// NewRedisWindowCounter creates a counter with the pre-compiled script.
func NewRedisWindowCounter(client *redis.Client) *RedisWindowCounter {
	return &RedisWindowCounter{
		redis:         client,
		reserveScript: redis.NewScript(reserveLuaScript),
		now:           time.Now,
	}
}

// WithClock overrides the clock used to score reservations.
func (c *RedisWindowCounter) WithClock(now func() time.Time) *RedisWindowCounter {
	c.now = now
	return c
}

// Reserve atomically checks the window and takes a slot for member.
func (c *RedisWindowCounter) Reserve(ctx context.Context, key, member string, limit int, window time.Duration, observed int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.redis,
		[]string{key},
		c.now().UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
		observed,
	).Slice()
	if err != nil {
		return false, fmt.Errorf("window reserve failed: %w", err)
	}
	if len(result) < 1 {
		return false, fmt.Errorf("window reserve: unexpected reply %v", result)
	}
	allowed, ok := result[0].(int64)
	if !ok {
		return false, fmt.Errorf("window reserve: unexpected reply %v", result)
	}
	return allowed == 1, nil
}

// Release gives back member's slot, for attempts that never went out.
func (c *RedisWindowCounter) Release(ctx context.Context, key, member string) error {
	if err := c.redis.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("window release failed: %w", err)
	}
	return nil
}
