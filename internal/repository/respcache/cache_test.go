package respcache

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testCache(ttl time.Duration) (*Cache, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(ttl, nil, zap.NewNop()).WithClock(func() time.Time { return now })
	return c, &now
}

func TestCache_StoreAndLookup(t *testing.T) {
	c, _ := testCache(time.Hour)

	c.Store("s1", "what is my deductible?", "Your deductible depends on your plan.")

	got, ok := c.Lookup("s1", "what is my deductible?")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "Your deductible depends on your plan." {
		t.Errorf("unexpected cached answer %q", got)
	}
}

func TestCache_MissOnDifferentSession(t *testing.T) {
	c, _ := testCache(time.Hour)

	c.Store("s1", "hello", "hi there")

	if _, ok := c.Lookup("s2", "hello"); ok {
		t.Error("expected miss for a different session with the same prompt")
	}
}

func TestCache_MissOnDifferentPrompt(t *testing.T) {
	c, _ := testCache(time.Hour)

	c.Store("s1", "hello", "hi there")

	if _, ok := c.Lookup("s1", "hello there"); ok {
		t.Error("expected miss for a different prompt")
	}
}

func TestCache_ExpiredEntryRejected(t *testing.T) {
	c, now := testCache(time.Hour)

	c.Store("s1", "hello", "hi there")

	*now = now.Add(time.Hour - time.Second)
	if _, ok := c.Lookup("s1", "hello"); !ok {
		t.Error("expected hit just before expiry")
	}

	*now = now.Add(time.Second)
	if _, ok := c.Lookup("s1", "hello"); ok {
		t.Error("expected miss at expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry removed on lookup, len=%d", c.Len())
	}
}

func TestCache_StoreRefreshesLifetime(t *testing.T) {
	c, now := testCache(time.Hour)

	c.Store("s1", "hello", "first")
	*now = now.Add(30 * time.Minute)
	c.Store("s1", "hello", "second")

	*now = now.Add(45 * time.Minute)
	got, ok := c.Lookup("s1", "hello")
	if !ok {
		t.Fatal("expected refreshed entry to survive the original expiry")
	}
	if got != "second" {
		t.Errorf("expected latest answer, got %q", got)
	}
}

func TestCache_ClearSession(t *testing.T) {
	c, _ := testCache(time.Hour)

	c.Store("s1", "q1", "a1")
	c.Store("s1", "q2", "a2")
	c.Store("s2", "q1", "a1")

	c.ClearSession("s1")

	if _, ok := c.Lookup("s1", "q1"); ok {
		t.Error("expected s1 entries cleared")
	}
	if _, ok := c.Lookup("s1", "q2"); ok {
		t.Error("expected s1 entries cleared")
	}
	if _, ok := c.Lookup("s2", "q1"); !ok {
		t.Error("expected s2 entries untouched")
	}
}

func TestCache_StoreSweepsExpired(t *testing.T) {
	c, now := testCache(time.Hour)

	c.Store("s1", "old1", "a")
	c.Store("s1", "old2", "a")

	*now = now.Add(2 * time.Hour)
	c.Store("s1", "fresh", "a")

	if c.Len() != 1 {
		t.Errorf("expected expired entries swept on store, len=%d", c.Len())
	}
}
