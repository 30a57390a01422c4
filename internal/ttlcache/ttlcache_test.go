package ttlcache

import (
	"testing"
	"time"
)

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New[string, int](500*time.Millisecond, func() time.Time { return now })

	calls := 0
	compute := func() int { calls++; return calls }

	if v := c.GetOrCompute("a", compute); v != 1 {
		t.Fatalf("first = %d", v)
	}
	now = now.Add(499 * time.Millisecond)
	if v := c.GetOrCompute("a", compute); v != 1 {
		t.Errorf("within ttl = %d, want cached 1", v)
	}
	now = now.Add(time.Millisecond)
	if v := c.GetOrCompute("a", compute); v != 2 {
		t.Errorf("at ttl = %d, want recomputed 2", v)
	}

	now = now.Add(time.Second)
	if n := c.Prune(); n != 1 || c.Len() != 0 {
		t.Errorf("prune removed %d, len %d", n, c.Len())
	}
}

func TestZeroTTLDisablesCaching(t *testing.T) {
	c := New[string, string](0, nil)
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Error("zero ttl should never hit")
	}
}
