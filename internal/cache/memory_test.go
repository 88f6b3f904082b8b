package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBackend_ExpiredIsMiss(t *testing.T) {
	c := NewMemoryBackend(time.Hour)
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "ios:app-info:appId=1", []byte(`{"title":"x"}`), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, hit, err := c.Get(ctx, "ios:app-info:appId=1")
	if err != nil || !hit {
		t.Fatalf("expected hit right after Set, hit=%v err=%v", hit, err)
	}
	if string(got) != `{"title":"x"}` {
		t.Fatalf("unexpected value %q", got)
	}

	time.Sleep(30 * time.Millisecond)

	if _, hit, _ := c.Get(ctx, "ios:app-info:appId=1"); hit {
		t.Fatalf("expected miss once the ttl passed")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted on read, %d left", c.Len())
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	c := NewMemoryBackend(time.Hour)
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "short", []byte("1"), time.Second)
	_ = c.Set(ctx, "long", []byte("2"), time.Hour)

	if n := c.sweep(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
	if _, hit, _ := c.Get(ctx, "long"); !hit {
		t.Fatalf("live entry was swept")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMemoryBackend_DeleteByPrefix(t *testing.T) {
	c := NewMemoryBackend(time.Minute)
	defer c.Close()

	ctx := context.Background()
	for _, k := range []string{"android:reviews:a=1", "android:reviews:a=2", "android:app-info:a=1", "ios:reviews:a=1"} {
		if err := c.Set(ctx, k, []byte("{}"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	n, err := c.DeleteByPrefix(ctx, "android:reviews")
	if err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 left, got %d", c.Len())
	}

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty after flush, got %d", c.Len())
	}
}

func TestMemoryBackend_SetCopiesValue(t *testing.T) {
	c := NewMemoryBackend(time.Minute)
	defer c.Close()

	ctx := context.Background()
	buf := []byte("abc")
	if err := c.Set(ctx, "k", buf, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf[0] = 'z'

	got, _, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value changed with caller buffer: %q", got)
	}
}

func TestMemoryBackend_NonPositiveTTLRemoves(t *testing.T) {
	c := NewMemoryBackend(time.Minute)
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if _, hit, _ := c.Get(ctx, "k"); hit {
		t.Fatalf("expected zero ttl to remove the key")
	}
}
