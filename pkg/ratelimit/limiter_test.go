package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestInMemoryFixedWindow(t *testing.T) {
	lim := NewInMemory(50 * time.Millisecond)
	key := "principal:alice"

	for i, wantAllowed := range []bool{true, true, false} {
		d := lim.Allow(key, 2)
		if d.Allowed != wantAllowed {
			t.Fatalf("call %d: allowed=%v, want %v (%+v)", i+1, d.Allowed, wantAllowed, d)
		}
		if d.Count != i+1 {
			t.Fatalf("call %d: count=%d", i+1, d.Count)
		}
	}
	if d := lim.Allow(key, 2); d.Remaining != 0 {
		t.Fatalf("remaining should floor at zero, got %+v", d)
	}

	time.Sleep(70 * time.Millisecond)
	if d := lim.Allow(key, 2); !d.Allowed || d.Count != 1 {
		t.Fatalf("window should reset the counter, got %+v", d)
	}
}

func TestInMemoryKeysAreIndependent(t *testing.T) {
	lim := NewInMemory(time.Minute)
	lim.Allow("principal:alice", 1)
	if d := lim.Allow("principal:bob", 1); !d.Allowed {
		t.Fatalf("bob should not share alice's bucket: %+v", d)
	}
}

func TestInMemoryDefaults(t *testing.T) {
	lim := NewInMemory(0)
	if lim.window != time.Minute {
		t.Fatalf("window = %v, want 1m", lim.window)
	}
	if d := lim.Allow("k", 0); !d.Allowed || d.Limit != 1 {
		t.Fatalf("limit should clamp to 1, got %+v", d)
	}
	if d := lim.Allow("k", -5); d.Allowed {
		t.Fatalf("clamped limit of 1 should now be exhausted, got %+v", d)
	}
}

func TestInMemoryPruneDropsExpiredBuckets(t *testing.T) {
	lim := NewInMemory(time.Millisecond)
	for i := 0; i < 10; i++ {
		lim.Allow(fmt.Sprintf("stale-%d", i), 5)
	}
	time.Sleep(5 * time.Millisecond)

	// Drive enough calls to trigger the periodic sweep.
	for i := 0; i < pruneEvery; i++ {
		lim.Allow("live", 1000)
	}

	lim.mu.Lock()
	defer lim.mu.Unlock()
	for k := range lim.buckets {
		if k != "live" {
			t.Fatalf("expired bucket %q survived the sweep", k)
		}
	}
}
