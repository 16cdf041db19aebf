package cache

import (
	"testing"
	"time"
)

func TestGetReturnsStoredValue(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", 42)
	v, ok := c.Get("k")
	if !ok || v.(int) != 42 {
		t.Fatalf("expected 42, got %v (ok=%t)", v, ok)
	}
}

func TestGetExpiresEntries(t *testing.T) {
	c := New(time.Minute)
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }
	c.Set("k", "v")
	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry")
	}
	if _, stillThere := c.entries["k"]; stillThere {
		t.Fatalf("expected expired entry to be evicted")
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New(0)
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected no caching with zero ttl")
	}
}

func TestDelete(t *testing.T) {
	c := New(time.Minute)
	c.Set("k", "v")
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected deleted entry to be gone")
	}
}
