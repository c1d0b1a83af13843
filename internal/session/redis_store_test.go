package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestRevokeAndCheck(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected fresh token not revoked, got %v %v", revoked, err)
	}

	if err := store.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	revoked, err = store.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected token revoked, got %v %v", revoked, err)
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.RevokeToken(ctx, "jti-2", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if ttl := s.TTL("revoked:jti-2"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	s.FastForward(2 * time.Minute)

	revoked, err := store.IsTokenRevoked(ctx, "jti-2")
	if err != nil || revoked {
		t.Fatalf("expected revocation to lapse, got %v %v", revoked, err)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.RevokeToken(context.Background(), "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if s.Exists("revoked:old") {
		t.Fatal("expected no key for expired token")
	}
}

func TestWithClient(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	store := NewRedisStoreWithClient(client)
	defer store.Close()

	if err := store.RevokeToken(context.Background(), "jti-3", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if !s.Exists("revoked:jti-3") {
		t.Fatal("expected key in redis")
	}
}

func TestRedisDown(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()
	if _, err := store.IsTokenRevoked(context.Background(), "jti"); err == nil {
		t.Fatal("expected error when redis is unavailable")
	}
}
