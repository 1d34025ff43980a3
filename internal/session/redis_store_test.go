package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	st, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, s
}

func newSession(hash string, now time.Time) store.Session {
	return store.Session{
		TokenHash:      hash,
		ContributorKey: "jane_doe",
		IssuedAt:       now,
		ExpiresAt:      now.Add(12 * time.Hour),
		LastActivityAt: now,
		LastAutosaveAt: now,
	}
}

func TestNewRedisStore(t *testing.T) {
	st, _ := setupTestRedis(t)
	if err := st.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreInvalidURL(t *testing.T) {
	if _, err := NewRedisStore("not-a-url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestCreateAndGetSession(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := st.CreateSession(ctx, newSession("hash-1", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sess, err := st.GetSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.ContributorKey != "jane_doe" || !sess.LastActivityAt.Equal(now) || sess.TokenHash != "hash-1" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestGetUnknownSession(t *testing.T) {
	st, _ := setupTestRedis(t)
	_, err := st.GetSession(context.Background(), "missing")
	if !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSessionOutlivesBoundExpiryByRetention(t *testing.T) {
	st, s := setupTestRedis(t)
	st.WithRetention(time.Hour)
	ctx := context.Background()
	now := time.Now().UTC()

	sess := newSession("hash-ttl", now)
	sess.ExpiresAt = now.Add(time.Minute)
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	s.FastForward(30 * time.Minute)
	if _, err := st.GetSession(ctx, "hash-ttl"); err != nil {
		t.Fatalf("expected session within retention, got %v", err)
	}

	s.FastForward(time.Hour)
	if _, err := st.GetSession(ctx, "hash-ttl"); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected session to be gone after retention, got %v", err)
	}
}

func TestTouchKeepsTTL(t *testing.T) {
	st, s := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := st.CreateSession(ctx, newSession("hash-touch", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	before := s.TTL("session:hash-touch")

	later := now.Add(3 * time.Minute)
	if err := st.TouchSession(ctx, "hash-touch", later, time.Time{}); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}
	if after := s.TTL("session:hash-touch"); after != before {
		t.Fatalf("expected TTL to be kept, before=%s after=%s", before, after)
	}

	sess, err := st.GetSession(ctx, "hash-touch")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.LastActivityAt.Equal(later) || !sess.LastAutosaveAt.Equal(now) {
		t.Fatalf("unexpected timestamps %+v", sess)
	}
}

func TestExpiredAndRevokedSessionsRefuseTouches(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, hash := range []string{"expired", "revoked"} {
		if err := st.CreateSession(ctx, newSession(hash, now)); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	if err := st.MarkSessionExpired(ctx, "expired", now); err != nil {
		t.Fatalf("MarkSessionExpired failed: %v", err)
	}
	if err := st.RevokeSession(ctx, "revoked", now); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	for _, hash := range []string{"expired", "revoked"} {
		if err := st.TouchSession(ctx, hash, now, now); !errors.Is(err, failure.ErrNotFound) {
			t.Errorf("%s: expected touch to fail with not found, got %v", hash, err)
		}
	}

	sess, err := st.GetSession(ctx, "expired")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.ExpiredAt == nil {
		t.Fatal("expected expired_at to be recorded")
	}
}

func TestSessionIsolation(t *testing.T) {
	st, _ := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := st.CreateSession(ctx, newSession("a", now)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	other := newSession("b", now)
	other.ContributorKey = "john_roe"
	if err := st.CreateSession(ctx, other); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := st.RevokeSession(ctx, "a", now); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	sess, err := st.GetSession(ctx, "b")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.RevokedAt != nil || sess.ContributorKey != "john_roe" {
		t.Fatalf("revoking one session must not affect another: %+v", sess)
	}
}
