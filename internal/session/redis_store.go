// Package session provides the Redis backend for contributor sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

const (
	defaultPrefix    = "session:"
	defaultRetention = 24 * time.Hour
	maxWatchRetries  = 5
)

// sessionData is the JSON payload stored for each token hash.
type sessionData struct {
	ContributorKey string     `json:"contributor_key"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	LastAutosaveAt time.Time  `json:"last_autosave_at"`
	ExpiredAt      *time.Time `json:"expired_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
}

// RedisStore keeps session state in Redis. Keys outlive the bound expiry by
// the retention window so that a timed-out token still resolves to "expired"
// rather than "unknown".
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    defaultPrefix,
		retention: defaultRetention,
	}
}

// WithRetention overrides how long keys are kept past their bound expiry.
func (s *RedisStore) WithRetention(retention time.Duration) *RedisStore {
	if retention > 0 {
		s.retention = retention
	}
	return s
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// CreateSession stores a new session.
func (s *RedisStore) CreateSession(ctx context.Context, sess store.Session) error {
	data := sessionData{
		ContributorKey: sess.ContributorKey,
		IssuedAt:       sess.IssuedAt.UTC(),
		ExpiresAt:      sess.ExpiresAt.UTC(),
		LastActivityAt: sess.LastActivityAt.UTC(),
		LastAutosaveAt: sess.LastAutosaveAt.UTC(),
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	if err := s.client.Set(ctx, s.key(sess.TokenHash), payload, ttl).Err(); err != nil {
		return failure.Wrap(failure.ErrStorageUnavailable, "save session", err)
	}
	return nil
}

// GetSession returns the session for tokenHash.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (store.Session, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.Session{}, failure.New(failure.ErrNotFound, "lookup session", "session not found")
	}
	if err != nil {
		return store.Session{}, failure.Wrap(failure.ErrStorageUnavailable, "lookup session", err)
	}
	data, err := decode(raw)
	if err != nil {
		return store.Session{}, err
	}
	return toSession(tokenHash, data), nil
}

// TouchSession advances activity and autosave timestamps of a live session.
// A zero time leaves the field unchanged.
func (s *RedisStore) TouchSession(ctx context.Context, tokenHash string, activityAt, autosaveAt time.Time) error {
	return s.update(ctx, "touch session", tokenHash, func(data *sessionData) error {
		if data.ExpiredAt != nil || data.RevokedAt != nil {
			return failure.New(failure.ErrNotFound, "touch session", "live session not found")
		}
		if !activityAt.IsZero() {
			data.LastActivityAt = activityAt.UTC()
		}
		if !autosaveAt.IsZero() {
			data.LastAutosaveAt = autosaveAt.UTC()
		}
		return nil
	})
}

// MarkSessionExpired records that the session timed out.
func (s *RedisStore) MarkSessionExpired(ctx context.Context, tokenHash string, at time.Time) error {
	return s.update(ctx, "expire session", tokenHash, func(data *sessionData) error {
		if data.ExpiredAt == nil {
			stamp := at.UTC()
			data.ExpiredAt = &stamp
		}
		return nil
	})
}

// RevokeSession marks the session logged out.
func (s *RedisStore) RevokeSession(ctx context.Context, tokenHash string, at time.Time) error {
	return s.update(ctx, "revoke session", tokenHash, func(data *sessionData) error {
		if data.RevokedAt == nil {
			stamp := at.UTC()
			data.RevokedAt = &stamp
		}
		return nil
	})
}

// update applies mutate under WATCH so concurrent writers never interleave.
func (s *RedisStore) update(ctx context.Context, op, tokenHash string, mutate func(*sessionData) error) error {
	key := s.key(tokenHash)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return failure.New(failure.ErrNotFound, op, "session not found")
		}
		if err != nil {
			return err
		}
		data, err := decode(raw)
		if err != nil {
			return err
		}
		if err := mutate(&data); err != nil {
			return err
		}
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && failure.KindOf(err) == nil {
			return failure.Wrap(failure.ErrStorageUnavailable, op, err)
		}
		return err
	}
	return failure.New(failure.ErrStorageUnavailable, op, "session changed concurrently %d times", maxWatchRetries)
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decode(raw string) (sessionData, error) {
	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return sessionData{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return data, nil
}

func toSession(tokenHash string, data sessionData) store.Session {
	return store.Session{
		TokenHash:      tokenHash,
		ContributorKey: data.ContributorKey,
		IssuedAt:       data.IssuedAt,
		ExpiresAt:      data.ExpiresAt,
		LastActivityAt: data.LastActivityAt,
		LastAutosaveAt: data.LastAutosaveAt,
		ExpiredAt:      data.ExpiredAt,
		RevokedAt:      data.RevokedAt,
	}
}
