package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	userID, err := store.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("LookupRefreshSession() = %q, want %q", userID, "user-123")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRefreshSession(ctx, "hash-2", "user-456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := store.LookupRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-3", "user-789", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, "hash-3"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store := setupTestRedis(t)
	if _, err := store.LookupRefreshSession(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}
