package autosave

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

type SessionStore interface {
	GetSession(ctx context.Context, tokenHash string) (store.Session, error)
	TouchSession(ctx context.Context, tokenHash string, activityAt, autosaveAt time.Time) error
	MarkSessionExpired(ctx context.Context, tokenHash string, at time.Time) error
}

type DraftStore interface {
	UpdateDraft(ctx context.Context, contributorKey, draftID string, content store.Content) (store.Draft, error)
}

// FormState is the in-progress form a client sends along with an interaction.
type FormState struct {
	DraftID string
	Content store.Content
}

type Interaction struct {
	// Qualifying interactions (typing, recording, navigation) reset the idle
	// clock. Heartbeats are not qualifying.
	Qualifying bool
	// Form, when set, is persisted if an autosave is due.
	Form *FormState
	// ForceSave persists Form regardless of the autosave interval.
	ForceSave bool
}

type Result struct {
	Decision Decision
	// Saved reports whether the form state was written to the draft.
	Saved bool
	// DraftGone is set when the draft no longer exists, typically because it
	// was finalized from another tab.
	DraftGone bool
	Draft     store.Draft
}

// Scheduler applies a Policy to stored sessions.
type Scheduler struct {
	policy   Policy
	sessions SessionStore
	drafts   DraftStore
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewScheduler(policy Policy, sessions SessionStore, drafts DraftStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		policy:   policy,
		sessions: sessions,
		drafts:   drafts,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Interact evaluates the session behind tokenHash and applies in. An expired
// session is recorded as such and returned as failure.ErrExpired without
// touching the draft; the last autosaved state stays recoverable.
func (s *Scheduler) Interact(ctx context.Context, tokenHash string, in Interaction) (Result, error) {
	sess, err := s.sessions.GetSession(ctx, tokenHash)
	if errors.Is(err, failure.ErrNotFound) {
		return Result{}, failure.New(failure.ErrInvalidToken, "session interaction", "unknown session")
	}
	if err != nil {
		return Result{}, err
	}
	if sess.RevokedAt != nil {
		return Result{}, failure.New(failure.ErrInvalidToken, "session interaction", "session was logged out")
	}
	if sess.ExpiredAt != nil {
		return Result{Decision: Decision{State: Expire}}, failure.New(failure.ErrExpired, "session interaction", "session already expired")
	}

	now := s.now().UTC()
	decision := s.policy.Evaluate(SessionState{
		LastActivityAt: sess.LastActivityAt,
		LastAutosaveAt: sess.LastAutosaveAt,
	}, now)
	if decision.State != Expire && !now.Before(sess.ExpiresAt) {
		decision = Decision{State: Expire, IdleFor: decision.IdleFor}
	}
	if decision.State == Expire {
		if err := s.sessions.MarkSessionExpired(ctx, tokenHash, now); err != nil {
			return Result{Decision: decision}, err
		}
		s.logger.Info("session expired by inactivity",
			slog.String("contributor", sess.ContributorKey),
			slog.Duration("idle", decision.IdleFor))
		return Result{Decision: decision}, failure.New(failure.ErrExpired, "session interaction", "session expired after %s idle", decision.IdleFor.Round(time.Second))
	}

	result := Result{Decision: decision}
	var autosaveAt time.Time
	if in.Form != nil && (decision.AutosaveDue || in.ForceSave) {
		draft, err := s.drafts.UpdateDraft(ctx, sess.ContributorKey, in.Form.DraftID, in.Form.Content)
		switch {
		case errors.Is(err, failure.ErrNotFound):
			result.DraftGone = true
		case err != nil:
			return result, err
		default:
			result.Saved = true
			result.Draft = draft
			autosaveAt = now
		}
	}

	var activityAt time.Time
	if in.Qualifying {
		activityAt = now
	}
	if !activityAt.IsZero() || !autosaveAt.IsZero() {
		if err := s.sessions.TouchSession(ctx, tokenHash, activityAt, autosaveAt); err != nil {
			return result, err
		}
	}
	if in.Qualifying {
		// Activity just happened, so the warning no longer applies.
		result.Decision = s.policy.Evaluate(SessionState{
			LastActivityAt: now,
			LastAutosaveAt: latest(sess.LastAutosaveAt, autosaveAt),
		}, now)
	}
	if result.Saved {
		s.logger.Debug("draft autosaved",
			slog.String("contributor", sess.ContributorKey),
			slog.String("draft_id", result.Draft.ID))
	}
	return result, nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
