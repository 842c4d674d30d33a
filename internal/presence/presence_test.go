package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*miniredis.Miniredis, *Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRegistry(rdb, "test", 600*time.Second)
}

func TestRegisterAndUnregister(t *testing.T) {
	t.Parallel()
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	n, err := reg.Register(ctx, "u1", "conn-a")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Register() count = %d, want 1", n)
	}

	n, err = reg.Register(ctx, "u1", "conn-b")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Register() count = %d, want 2", n)
	}

	n, err = reg.Unregister(ctx, "u1", "conn-a")
	if err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Unregister() remaining = %d, want 1", n)
	}

	n, err = reg.Unregister(ctx, "u1", "conn-b")
	if err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Unregister() remaining = %d, want 0", n)
	}

	online, err := reg.Online(ctx, "u1")
	if err != nil {
		t.Fatalf("Online() error = %v", err)
	}
	if online {
		t.Error("Online() = true after last unregister, want false")
	}
}

func TestStaleConnectionsEvicted(t *testing.T) {
	t.Parallel()
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	reg.now = func() time.Time { return base }

	if _, err := reg.Register(ctx, "u1", "conn-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Beyond the stale window the connection no longer counts.
	reg.now = func() time.Time { return base.Add(601 * time.Second) }
	n, err := reg.CountActive(ctx, "u1")
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountActive() after stale window = %d, want 0", n)
	}
}

func TestTouchKeepsConnectionFresh(t *testing.T) {
	t.Parallel()
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	reg.now = func() time.Time { return base }

	if _, err := reg.Register(ctx, "u1", "conn-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Heartbeat at +500s keeps the connection alive past the original window.
	reg.now = func() time.Time { return base.Add(500 * time.Second) }
	if err := reg.Touch(ctx, "u1", "conn-a"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	reg.now = func() time.Time { return base.Add(700 * time.Second) }
	n, err := reg.CountActive(ctx, "u1")
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountActive() after touch = %d, want 1", n)
	}
}

func TestRegistriesAreEnvScoped(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := NewRegistry(rdb, "staging", 600*time.Second)
	b := NewRegistry(rdb, "production", 600*time.Second)
	ctx := context.Background()

	if _, err := a.Register(ctx, "u1", "conn-a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	n, err := b.CountActive(ctx, "u1")
	if err != nil {
		t.Fatalf("CountActive() error = %v", err)
	}
	if n != 0 {
		t.Errorf("CountActive() in other env = %d, want 0", n)
	}
}

func TestSetTypingDeduplicates(t *testing.T) {
	t.Parallel()
	mr, reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.SetTyping(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if !first {
		t.Error("SetTyping() first call = false, want true")
	}

	second, err := reg.SetTyping(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if second {
		t.Error("SetTyping() within TTL = true, want false")
	}

	mr.FastForward(11 * time.Second)

	third, err := reg.SetTyping(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	if !third {
		t.Error("SetTyping() after TTL = false, want true")
	}
}
