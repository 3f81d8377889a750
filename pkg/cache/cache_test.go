package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("key", "value")

	got, ok := c.Get("key")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "value" {
		t.Errorf("got %v, want value", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.SetWithTTL("key", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCacheGetOrSet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	calls := 0
	load := func(context.Context) (interface{}, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrSet(context.Background(), "key", 0, load)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "loaded" {
			t.Errorf("got %v, want loaded", got)
		}
	}

	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}
}

func TestCacheGetOrSetError(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	wantErr := errors.New("load failed")
	_, err := c.GetOrSet(context.Background(), "key", 0, func(context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}

	if _, ok := c.Get("key"); ok {
		t.Error("failed load must not be cached")
	}
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("creds|room-a|alice", 1)
	c.Set("creds|room-a|bob", 2)
	c.Set("creds|room-b|alice", 3)

	c.InvalidatePrefix("creds|room-a|")

	if _, ok := c.Get("creds|room-a|alice"); ok {
		t.Error("expected prefix entry removed")
	}
	if _, ok := c.Get("creds|room-b|alice"); !ok {
		t.Error("expected unrelated entry kept")
	}
	if c.Size() != 1 {
		t.Errorf("size = %d, want 1", c.Size())
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted entry to miss")
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("size after clear = %d, want 0", c.Size())
	}
}
