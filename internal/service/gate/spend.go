package gate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SpendTracker atomically admits spend against a trailing-window cap.
type SpendTracker interface {
	// Reserve adds amount to scope's window when the new total stays within
	// limit. total is the window's spend after the call.
	Reserve(ctx context.Context, scope string, amount, limit float64, window time.Duration) (allowed bool, total float64, err error)
}

// Members are "<uuid>:<amount>". Totals come back as strings because Redis
// truncates Lua numbers to integers.
const spendLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local amount = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local member = ARGV[5]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local total = 0
for _, m in ipairs(redis.call("ZRANGE", key, 0, -1)) do
    local v = tonumber(string.match(m, ":([^:]+)$"))
    if v then
        total = total + v
    end
end

if total + amount > limit then
    return {0, tostring(total)}
end

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)
return {1, tostring(total + amount)}
`

// RedisSpendTracker keeps one sorted set per scope, scored by time in
// milliseconds.
type RedisSpendTracker struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisSpendTracker creates a spend tracker.
func NewRedisSpendTracker(client *redis.Client) *RedisSpendTracker {
	return &RedisSpendTracker{
		redis:  client,
		script: redis.NewScript(spendLuaScript),
		now:    time.Now,
	}
}

// WithClock overrides the clock used to score entries.
func (t *RedisSpendTracker) WithClock(now func() time.Time) *RedisSpendTracker {
	t.now = now
	return t
}

// SpendKey returns the Redis key for a spend scope.
func SpendKey(scope string) string {
	return "compliance:spend:" + scope
}

// Reserve implements SpendTracker.
func (t *RedisSpendTracker) Reserve(ctx context.Context, scope string, amount, limit float64, window time.Duration) (bool, float64, error) {
	member := fmt.Sprintf("%s:%s", uuid.New().String(), strconv.FormatFloat(amount, 'f', -1, 64))
	res, err := t.script.Run(ctx, t.redis, []string{SpendKey(scope)},
		t.now().UnixMilli(),
		window.Milliseconds(),
		strconv.FormatFloat(amount, 'f', -1, 64),
		strconv.FormatFloat(limit, 'f', -1, 64),
		member,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("spend reserve script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("spend reserve script: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	s, _ := res[1].(string)
	total, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, 0, fmt.Errorf("spend reserve script: total %q: %w", s, err)
	}
	return allowed == 1, total, nil
}
