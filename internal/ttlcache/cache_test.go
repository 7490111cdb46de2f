package ttlcache

import (
	"testing"
	"time"
)

func TestGetAfterSet(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 42)

	got, ok := c.Get("a")
	if !ok || got != 42 {
		t.Fatalf("Get = (%d, %v), want (42, true)", got, ok)
	}
	if c.Hits() != 1 {
		t.Fatalf("hits = %d, want 1", c.Hits())
	}
}

func TestExpiryIsAMiss(t *testing.T) {
	now := time.Now()
	c := New[string](time.Minute).WithClock(func() time.Time { return now })
	c.Set("k", "v")

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry served as fresh")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted on read, len = %d", c.Len())
	}
}

func TestZeroTTLDisablesCache(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Fatal("zero-TTL cache stored an entry")
	}
}

func TestDeleteFunc(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("role:admin|x", "a")
	c.Set("role:admin|y", "b")
	c.Set("role:member|z", "c")

	removed := c.DeleteFunc(func(key, _ string) bool {
		return len(key) >= 10 && key[:10] == "role:admin"
	})
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, ok := c.Get("role:member|z"); !ok {
		t.Fatal("unrelated entry was evicted")
	}
}

func TestSweepDropsOnlyExpired(t *testing.T) {
	now := time.Now()
	c := New[int](time.Minute).WithClock(func() time.Time { return now })
	c.Set("old", 1)

	now = now.Add(30 * time.Second)
	c.Set("fresh", 2)

	now = now.Add(45 * time.Second)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatal("fresh entry swept")
	}
}
