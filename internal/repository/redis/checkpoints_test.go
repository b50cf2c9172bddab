package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return m, client
}

func TestCheckpointsDefaultToZero(t *testing.T) {
	_, client := newClient(t)
	cp := NewCheckpoints(client, "")

	v, err := cp.Last(context.Background(), "p1")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}
}

func TestCheckpointsAdvanceMonotonic(t *testing.T) {
	m, client := newClient(t)
	cp := NewCheckpoints(client, "test:cp")
	ctx := context.Background()

	for _, v := range []int{1, 4, 2} {
		if err := cp.Advance(ctx, "p1", v); err != nil {
			t.Fatalf("advance %d: %v", v, err)
		}
	}
	v, err := cp.Last(ctx, "p1")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if v != 4 {
		t.Fatalf("expected 4, got %d", v)
	}
	if got := m.HGet("test:cp", "p1"); got != "4" {
		t.Fatalf("unexpected raw value %q", got)
	}
	if other, _ := cp.Last(ctx, "p2"); other != 0 {
		t.Fatalf("checkpoints leaked across aggregates: %d", other)
	}
}
