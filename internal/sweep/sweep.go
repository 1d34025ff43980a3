// Package sweep re-drives work that a crash or an outage left unfinished:
// transcripts still pending, follow-up batches that never completed, and
// sessions past their retention window.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultBatch = 100

type TranscriptRecoverer interface {
	RecoverTranscripts(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type FollowUpRecoverer interface {
	RecoverFollowUps(ctx context.Context, grace time.Duration) (int, error)
}

type SessionPurger interface {
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config sets how old unfinished work must be before it is retried.
type Config struct {
	TranscriptGrace time.Duration
	FollowUpGrace   time.Duration
	// SessionRetention of zero skips the purge.
	SessionRetention time.Duration
	Batch            int
}

type Report struct {
	Transcripts    int   `json:"transcripts"`
	FollowUps      int   `json:"followUps"`
	SessionsPurged int64 `json:"sessionsPurged"`
}

type Sweeper struct {
	transcripts TranscriptRecoverer
	followUps   FollowUpRecoverer
	sessions    SessionPurger
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Sweeper)

func WithTranscripts(r TranscriptRecoverer) Option {
	return func(s *Sweeper) { s.transcripts = r }
}

func WithFollowUps(r FollowUpRecoverer) Option {
	return func(s *Sweeper) { s.followUps = r }
}

func WithSessions(p SessionPurger) Option {
	return func(s *Sweeper) { s.sessions = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	s := &Sweeper{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one pass. Every step runs even when an earlier one fails; the
// returned error joins all step failures.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)
	now := s.now()
	if s.transcripts != nil {
		n, err := s.transcripts.RecoverTranscripts(ctx, now.Add(-s.cfg.TranscriptGrace), s.cfg.Batch)
		report.Transcripts = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if s.followUps != nil {
		n, err := s.followUps.RecoverFollowUps(ctx, s.cfg.FollowUpGrace)
		report.FollowUps = n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if s.sessions != nil && s.cfg.SessionRetention > 0 {
		n, err := s.sessions.PurgeSessions(ctx, now.Add(-s.cfg.SessionRetention))
		report.SessionsPurged = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("sweep finished with errors",
			slog.Int("transcripts", report.Transcripts),
			slog.Int("follow_ups", report.FollowUps),
			slog.Int64("sessions_purged", report.SessionsPurged),
			slog.String("error", err.Error()))
	} else if report != (Report{}) {
		s.logger.Info("sweep recovered work",
			slog.Int("transcripts", report.Transcripts),
			slog.Int("follow_ups", report.FollowUps),
			slog.Int64("sessions_purged", report.SessionsPurged))
	}
	return report, err
}

// Loop runs a pass every interval until ctx is cancelled.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Run(ctx)
		}
	}
}
