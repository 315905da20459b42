package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemory_ExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(10, time.Hour)
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "job:a", "x", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "job:a"); !ok || v != "x" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "job:a"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemory_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Hour)

	m.Set(ctx, "a", "1", 0)
	m.Set(ctx, "b", "2", 0)
	m.Get(ctx, "a") // a is now most recent
	m.Set(ctx, "c", "3", 0)

	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok, _ := m.Get(ctx, "a"); !ok {
		t.Error("expected a to survive")
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", m.Len())
	}
}

func TestMemory_Claim(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(10, time.Hour)
	m.now = func() time.Time { return now }

	if won, err := m.Claim(ctx, "lock:jazz", "first", time.Minute); err != nil || !won {
		t.Fatalf("first claim = %v, %v", won, err)
	}
	if won, _ := m.Claim(ctx, "lock:jazz", "second", time.Minute); won {
		t.Fatal("second claim on a live key should lose")
	}
	if v, _, _ := m.Get(ctx, "lock:jazz"); v != "first" {
		t.Errorf("losing claim overwrote the value: %q", v)
	}

	now = now.Add(2 * time.Minute)
	if won, _ := m.Claim(ctx, "lock:jazz", "third", time.Minute); !won {
		t.Error("claim on an expired key should win")
	}
}

func TestMemory_ClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Hour)

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Claim(ctx, "lock:jazz", "x", time.Minute); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("winners = %d, want 1", won.Load())
	}
}
