package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "reconcile:ratelimit:"

// allowScript trims the window, then admits the event when there is room.
// Scores are unix microseconds. Returns {allowed, count, oldest score}.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], math.ceil(window / 1000))
	count = count + 1
	allowed = 1
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Redis keeps one sorted set per key so every instance shares the window.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	vals, err := allowScript.Run(ctx, s.client, []string{keyPrefix + key},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}

	count := int(vals[1])
	resetAt := time.UnixMicro(vals[2]).Add(window)
	res := &Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.Remaining = 0
		res.RetryAfter = retryAfter(now, resetAt)
	}
	return res, nil
}
