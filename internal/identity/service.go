// Package identity authenticates contributors by name and PIN and resolves
// opaque session tokens back to a contributor.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/auth"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

// ContributorStore defines the contributor storage the service needs.
type ContributorStore interface {
	CreateContributor(ctx context.Context, c store.Contributor) (store.Contributor, error)
	GetContributor(ctx context.Context, key string) (store.Contributor, error)
}

// SessionStore is implemented by store.Store and session.RedisStore.
type SessionStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	GetSession(ctx context.Context, tokenHash string) (store.Session, error)
	TouchSession(ctx context.Context, tokenHash string, activityAt, autosaveAt time.Time) error
	MarkSessionExpired(ctx context.Context, tokenHash string, at time.Time) error
	RevokeSession(ctx context.Context, tokenHash string, at time.Time) error
}

type Config struct {
	// TokenTTL is the bound expiry of a session regardless of activity.
	TokenTTL time.Duration
	// IdleTimeout expires a session with no qualifying interaction.
	IdleTimeout time.Duration
}

// Service provides contributor registration, authentication and session
// resolution.
type Service struct {
	contributors ContributorStore
	sessions     SessionStore
	cfg          Config
	bcryptCost   int
	compare      func(hash, pin []byte) error
	now          func() time.Time
	logger       *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost overrides the PIN hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(contributors ContributorStore, sessions SessionStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		contributors: contributors,
		sessions:     sessions,
		cfg:          cfg,
		bcryptCost:   bcrypt.DefaultCost,
		compare:      bcrypt.CompareHashAndPassword,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is an issued token with the contributor it is bound to. Token is
// only ever returned here; storage keeps its hash.
type Session struct {
	Token          string
	ContributorKey string
	DisplayName    string
	Role           string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Principal is a resolved, live session.
type Principal struct {
	ContributorKey string
	DisplayName    string
	Role           string
	TokenHash      string
	Session        store.Session
}

// Register creates a contributor and opens a session for them. Names that
// fold to an existing key are rejected.
func (s *Service) Register(ctx context.Context, name, pin string) (Session, error) {
	key, err := validateCredentials(name, pin)
	if err != nil {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.bcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash pin: %w", err)
	}
	contributor, err := s.contributors.CreateContributor(ctx, store.Contributor{
		Key:         key,
		DisplayName: strings.TrimSpace(name),
		PINHash:     string(hash),
		Role:        store.RoleContributor,
	})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("contributor registered", slog.String("contributor", contributor.Key))
	return s.open(ctx, contributor)
}

// Authenticate verifies name and PIN and opens a new session. Unknown names
// and wrong PINs fail identically.
func (s *Service) Authenticate(ctx context.Context, name, pin string) (Session, error) {
	key, err := validateCredentials(name, pin)
	if err != nil {
		return Session{}, failure.New(failure.ErrAuth, "authenticate", "invalid name or PIN")
	}

	contributor, err := s.contributors.GetContributor(ctx, key)
	if errors.Is(err, failure.ErrNotFound) {
		// Spend the same hashing work as a known name with a wrong PIN.
		_ = s.compare(s.unknownHash(), []byte(pin))
		return Session{}, failure.New(failure.ErrAuth, "authenticate", "invalid name or PIN")
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.compare([]byte(contributor.PINHash), []byte(pin)); err != nil {
		s.logger.Info("authentication rejected", slog.String("contributor", key))
		return Session{}, failure.New(failure.ErrAuth, "authenticate", "invalid name or PIN")
	}
	return s.open(ctx, contributor)
}

// unknownHash hashes a value that is never a valid PIN at the configured
// cost. It is built on first use.
func (s *Service) unknownHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("unknown-contributor"), s.bcryptCost)
		if err != nil {
			s.logger.Warn("build placeholder pin hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Service) open(ctx context.Context, contributor store.Contributor) (Session, error) {
	token, err := auth.NewToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.TokenTTL)
	if err := s.sessions.CreateSession(ctx, store.Session{
		TokenHash:      auth.HashToken(token),
		ContributorKey: contributor.Key,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
		LastActivityAt: now,
		LastAutosaveAt: now,
	}); err != nil {
		return Session{}, err
	}
	return Session{
		Token:          token,
		ContributorKey: contributor.Key,
		DisplayName:    contributor.DisplayName,
		Role:           contributor.Role,
		IssuedAt:       now,
		ExpiresAt:      expiresAt,
	}, nil
}

// Resolve maps a token to its contributor. It fails closed: malformed,
// unknown and revoked tokens are invalid, and a session past its bound
// expiry or idle timeout is expired. Expiry is evaluated here, on use.
func (s *Service) Resolve(ctx context.Context, token string) (Principal, error) {
	if !auth.WellFormed(token) {
		return Principal{}, failure.New(failure.ErrInvalidToken, "resolve session", "malformed token")
	}
	hash := auth.HashToken(token)
	sess, err := s.sessions.GetSession(ctx, hash)
	if errors.Is(err, failure.ErrNotFound) {
		return Principal{}, failure.New(failure.ErrInvalidToken, "resolve session", "unknown token")
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.RevokedAt != nil {
		return Principal{}, failure.New(failure.ErrInvalidToken, "resolve session", "session was logged out")
	}
	if err := s.CheckExpiry(ctx, sess); err != nil {
		return Principal{}, err
	}

	contributor, err := s.contributors.GetContributor(ctx, sess.ContributorKey)
	if errors.Is(err, failure.ErrNotFound) {
		return Principal{}, failure.New(failure.ErrInvalidToken, "resolve session", "contributor no longer exists")
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{
		ContributorKey: contributor.Key,
		DisplayName:    contributor.DisplayName,
		Role:           contributor.Role,
		TokenHash:      hash,
		Session:        sess,
	}, nil
}

// CheckExpiry returns failure.ErrExpired when sess has timed out, recording
// the expiry on first detection.
func (s *Service) CheckExpiry(ctx context.Context, sess store.Session) error {
	if sess.ExpiredAt != nil {
		return failure.New(failure.ErrExpired, "resolve session", "session expired at %s", sess.ExpiredAt.Format(time.RFC3339))
	}
	now := s.now().UTC()
	reason := ""
	switch {
	case !now.Before(sess.ExpiresAt):
		reason = "session lifetime elapsed"
	case s.cfg.IdleTimeout > 0 && now.Sub(sess.LastActivityAt) >= s.cfg.IdleTimeout:
		reason = "session idle too long"
	default:
		return nil
	}
	if err := s.sessions.MarkSessionExpired(ctx, sess.TokenHash, now); err != nil {
		s.logger.Warn("mark session expired failed", slog.String("contributor", sess.ContributorKey), slog.String("error", err.Error()))
	}
	s.logger.Info("session expired", slog.String("contributor", sess.ContributorKey), slog.String("reason", reason))
	return failure.New(failure.ErrExpired, "resolve session", "%s", reason)
}

// Logout revokes the session behind token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if !auth.WellFormed(token) {
		return nil
	}
	err := s.sessions.RevokeSession(ctx, auth.HashToken(token), s.now().UTC())
	if errors.Is(err, failure.ErrNotFound) {
		return nil
	}
	return err
}

func validateCredentials(name, pin string) (string, error) {
	key := keys.ContributorKey(name)
	if key == "" {
		return "", failure.New(failure.ErrValidation, "validate credentials", "name must contain letters or digits")
	}
	if !ValidPIN(pin) {
		return "", failure.New(failure.ErrValidation, "validate credentials", "PIN must be exactly 4 digits")
	}
	return key, nil
}

// ValidPIN reports whether pin is exactly four ASCII digits.
func ValidPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}
