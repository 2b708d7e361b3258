package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client), mr
}

func assertClaim(t *testing.T, store session.IdempotencyStore, key, value, wantValue string, wantClaimed bool) {
	t.Helper()
	got, claimed, err := store.Claim(context.Background(), key, value, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != wantValue || claimed != wantClaimed {
		t.Fatalf("Claim(%q, %q) = (%q, %v), want (%q, %v)", key, value, got, claimed, wantValue, wantClaimed)
	}
}

func TestRedisStore_Claim(t *testing.T) {
	store, _ := newRedisStore(t)
	assertClaim(t, store, "room:s1:k1", "r-1", "r-1", true)
	assertClaim(t, store, "room:s1:k1", "r-2", "r-1", false)
	assertClaim(t, store, "room:s1:k2", "r-3", "r-3", true)
}

func TestRedisStore_ClaimAfterExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	assertClaim(t, store, "k", "first", "first", true)
	mr.FastForward(2 * time.Hour)
	assertClaim(t, store, "k", "second", "second", true)
}

func TestMemoryStore_Claim(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	assertClaim(t, store, "k", "first", "first", true)
	assertClaim(t, store, "k", "second", "first", false)
	now = now.Add(2 * time.Hour)
	assertClaim(t, store, "k", "third", "third", true)
	if len(store.entries) != 1 {
		t.Fatalf("expected expired entries to be pruned, got %d", len(store.entries))
	}
}
