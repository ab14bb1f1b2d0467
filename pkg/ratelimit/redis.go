package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterScript increments the per-key counter and stamps the window TTL
// on first increment, returning {count, remaining-ttl-ms} atomically.
var counterScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter shares one fixed window across gateway instances. When Redis
// is unreachable or returns garbage it degrades to the in-memory fallback
// rather than failing open.
type RedisLimiter struct {
	Client   *redis.Client
	Window   time.Duration
	Prefix   string
	Fallback *InMemoryLimiter
}

func NewRedis(client *redis.Client, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		Client:   client,
		Window:   window,
		Prefix:   "golf:rl:",
		Fallback: NewInMemory(window),
	}
}

func (l *RedisLimiter) Allow(key string, limit int) Decision {
	limit = clampLimit(limit)
	if l.Client == nil {
		return l.degrade(key, limit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := counterScript.Run(ctx, l.Client, []string{l.Prefix + key}, l.Window.Milliseconds()).Result()
	if err != nil {
		return l.degrade(key, limit)
	}
	count, ttl, ok := parseScriptResult(res)
	if !ok {
		return l.degrade(key, limit)
	}
	if ttl < 0 {
		ttl = l.Window
	}
	return decide(count, limit, time.Now().UTC().Add(ttl))
}

func parseScriptResult(res interface{}) (count int, ttl time.Duration, ok bool) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, 0, false
	}
	n, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	return int(n), time.Duration(ttlMs) * time.Millisecond, true
}

// degrade keeps limiting locally when Redis cannot be consulted. Without a
// fallback the request is allowed so a Redis outage cannot take down the API.
func (l *RedisLimiter) degrade(key string, limit int) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(key, limit)
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
		ResetAt:   time.Now().UTC().Add(l.Window),
	}
}
