// Package ratelimit provides fixed-window request limiting for the gateway,
// with a Redis-backed limiter for multi-instance deployments and an
// in-memory limiter that doubles as its fallback.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one Allow call. Remaining and ResetAt feed
// the RateLimit response headers.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 1
	}
	return limit
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// InMemoryLimiter counts requests per key in fixed windows. Expired
// buckets are pruned opportunistically on access.
type InMemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string]bucket
	calls   int
}

type bucket struct {
	count   int
	resetAt time.Time
}

// pruneEvery bounds how often the full bucket sweep runs.
const pruneEvery = 256

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window:  window,
		buckets: make(map[string]bucket),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	limit = clampLimit(limit)
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%pruneEvery == 0 {
		l.prune(now)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = bucket{resetAt: now.Add(l.window)}
	}
	b.count++
	l.buckets[key] = b

	return decide(b.count, limit, b.resetAt)
}

func (l *InMemoryLimiter) prune(now time.Time) {
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}
