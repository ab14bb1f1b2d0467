package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  5 * time.Millisecond,
		ReadTimeout:  5 * time.Millisecond,
		WriteTimeout: 5 * time.Millisecond,
		MaxRetries:   0,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRedisDefaults(t *testing.T) {
	lim := NewRedis(nil, 0)
	if lim.Window != time.Minute {
		t.Fatalf("window = %v, want 1m", lim.Window)
	}
	if lim.Prefix != "golf:rl:" {
		t.Fatalf("prefix = %q", lim.Prefix)
	}
	if lim.Fallback == nil {
		t.Fatal("fallback limiter not initialized")
	}
}

func TestRedisLimiterSharedWindow(t *testing.T) {
	lim := NewRedis(newMiniredisClient(t), time.Minute)
	key := "principal:alice"

	for i, wantAllowed := range []bool{true, true, false} {
		d := lim.Allow(key, 2)
		if d.Allowed != wantAllowed || d.Count != i+1 {
			t.Fatalf("call %d: %+v", i+1, d)
		}
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lim := NewRedis(client, 25*time.Millisecond)
	lim.Allow("k", 1)
	if d := lim.Allow("k", 1); d.Allowed {
		t.Fatalf("limit should be exhausted: %+v", d)
	}
	mr.FastForward(30 * time.Millisecond)
	if d := lim.Allow("k", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("counter should reset after the window: %+v", d)
	}
}

func TestRedisLimiterDegradesToFallback(t *testing.T) {
	lim := NewRedis(unreachableClient(t), time.Second)

	if d := lim.Allow("principal:alice", 1); !d.Allowed || d.Count != 1 {
		t.Fatalf("fallback should take over on outage: %+v", d)
	}
	if d := lim.Allow("principal:alice", 1); d.Allowed {
		t.Fatalf("fallback should still enforce the limit: %+v", d)
	}
}

func TestRedisLimiterPermissiveWithoutFallback(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		lim := &RedisLimiter{Window: time.Second}
		d := lim.Allow("k", 0)
		if !d.Allowed || d.Limit != 1 || d.Remaining != 1 {
			t.Fatalf("expected permissive decision: %+v", d)
		}
	})

	t.Run("redis outage", func(t *testing.T) {
		lim := &RedisLimiter{Client: unreachableClient(t), Window: time.Second, Prefix: "golf:rl:"}
		d := lim.Allow("k", 3)
		if !d.Allowed || d.Limit != 3 || d.Count != 0 {
			t.Fatalf("expected permissive decision: %+v", d)
		}
	})
}

func TestRedisLimiterMalformedScriptResult(t *testing.T) {
	client := newMiniredisClient(t)

	orig := counterScript
	defer func() { counterScript = orig }()

	t.Run("non-array result is permissive without fallback", func(t *testing.T) {
		counterScript = redis.NewScript(`return "oops"`)
		lim := &RedisLimiter{Client: client, Window: time.Second, Prefix: "golf:rl:"}
		if d := lim.Allow("k1", 5); !d.Allowed || d.Count != 0 {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("short array routes to fallback", func(t *testing.T) {
		counterScript = redis.NewScript(`return {1}`)
		lim := NewRedis(client, time.Second)
		if d := lim.Allow("k2", 1); !d.Allowed {
			t.Fatalf("got %+v", d)
		}
		if d := lim.Allow("k2", 1); d.Allowed {
			t.Fatalf("fallback should enforce the limit: %+v", d)
		}
	})
}

func TestRedisLimiterMissingTTLUsesWindow(t *testing.T) {
	client := newMiniredisClient(t)
	lim := NewRedis(client, 500*time.Millisecond)

	// A key with no expiry yields PTTL=-1; ResetAt falls back to the window.
	if err := client.Set(context.Background(), lim.Prefix+"k", "1", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := lim.Allow("k", 10)
	if d.ResetAt.Before(time.Now().UTC()) {
		t.Fatalf("ResetAt should be in the future: %v", d.ResetAt)
	}
}
