package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func runCacheContract(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	if _, err := c.Get(ctx, "absent"); !errors.Is(err, redis.Nil) {
		t.Fatalf("miss should be redis.Nil, got %v", err)
	}

	if err := c.Set(ctx, "decision:abc", `{"allowed":true}`, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "decision:abc")
	if err != nil || got != `{"allowed":true}` {
		t.Fatalf("Get = %q, %v", got, err)
	}

	held, err := c.SetNX(ctx, "lock:schema:gmail", "owner-1", time.Minute)
	if err != nil || !held {
		t.Fatalf("first SetNX = %v, %v", held, err)
	}
	held, err = c.SetNX(ctx, "lock:schema:gmail", "owner-2", time.Minute)
	if err != nil || held {
		t.Fatalf("contended SetNX = %v, %v", held, err)
	}
	if v, _ := c.Get(ctx, "lock:schema:gmail"); v != "owner-1" {
		t.Fatalf("lock value = %q, want original holder", v)
	}

	if err := c.Del(ctx, "lock:schema:gmail"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if held, _ = c.SetNX(ctx, "lock:schema:gmail", "owner-3", time.Minute); !held {
		t.Fatal("SetNX after Del should succeed")
	}
}

func TestMemoryCacheContract(t *testing.T) {
	runCacheContract(t, NewMemoryCache())
}

func TestRedisCacheContract(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	runCacheContract(t, &RedisCache{client: client})
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expired entry should miss, got %v", err)
	}

	// An expired lock no longer blocks SetNX.
	if _, err := c.SetNX(ctx, "lock", "a", 10*time.Millisecond); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	if held, _ := c.SetNX(ctx, "lock", "b", time.Minute); !held {
		t.Fatal("expired SetNX entry should be reclaimable")
	}
}

func TestNewCacheBackendSelection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if _, ok := NewCache(ctx, nil).(*MemoryCache); !ok {
		t.Fatal("nil client should fall back to memory")
	}

	deadClient := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 5 * time.Millisecond,
		ReadTimeout: 5 * time.Millisecond,
		MaxRetries:  0,
	})
	defer deadClient.Close()
	if _, ok := NewCache(ctx, deadClient).(*MemoryCache); !ok {
		t.Fatal("unreachable redis should fall back to memory")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	liveClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer liveClient.Close()
	if _, ok := NewCache(context.Background(), liveClient).(*RedisCache); !ok {
		t.Fatal("healthy redis should be preferred")
	}
}
