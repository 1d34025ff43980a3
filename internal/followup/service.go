// Package followup generates, stores and answers the follow-up questions
// asked after a record is finalized.
package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

// Generator produces the raw reply for a prompt. Client implements it.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Store interface {
	GetRecord(ctx context.Context, recordID string) (store.Record, error)
	MarkFollowUpsPending(ctx context.Context, recordID string) error
	MarkFollowUpsFailed(ctx context.Context, recordID, reason string) error
	SaveFollowUpBatch(ctx context.Context, recordID string, questions []store.FollowUpQuestion) (bool, error)
	ListFollowUps(ctx context.Context, recordID string) ([]store.FollowUpQuestion, error)
	GetFollowUp(ctx context.Context, recordID, questionID string) (store.FollowUpQuestion, error)
	AnswerFollowUp(ctx context.Context, recordID, questionID, answerText, audioQuestionID string) (store.FollowUpQuestion, error)
	ListRecordsNeedingFollowUps(ctx context.Context, cutoff time.Time, limit int) ([]store.Record, error)
}

type Service struct {
	store     Store
	generator Generator
	newID     func() string
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIDGenerator overrides how question ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService returns a Service. A nil generator leaves every batch failed
// with a configuration error until one is configured.
func NewService(st Store, generator Generator, opts ...Option) *Service {
	s := &Service{
		store:     st,
		generator: generator,
		newID:     uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate requests and stores the follow-up batch of a record. A record that
// already has a batch keeps it. Generation failures are recorded on the record
// and returned as failure.ErrExternalService; the record itself is unaffected.
func (s *Service) Generate(ctx context.Context, recordID string) ([]store.FollowUpQuestion, error) {
	record, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.FollowUpStatus == store.FollowUpReady {
		return s.store.ListFollowUps(ctx, recordID)
	}
	if err := s.store.MarkFollowUpsPending(ctx, recordID); err != nil {
		return nil, err
	}

	questions, err := s.generate(ctx, record)
	if err != nil {
		reason := err.Error()
		if markErr := s.store.MarkFollowUpsFailed(ctx, recordID, reason); markErr != nil {
			s.logger.Warn("mark follow-ups failed", slog.String("record_id", recordID), slog.String("error", markErr.Error()))
		}
		s.logger.Error("follow-up generation failed", slog.String("record_id", recordID), slog.String("error", reason))
		return nil, failure.Wrap(failure.ErrExternalService, "generate follow-ups", err)
	}

	batch := make([]store.FollowUpQuestion, 0, len(questions))
	for _, q := range questions {
		batch = append(batch, store.FollowUpQuestion{
			ID:       s.newID(),
			RecordID: recordID,
			Category: q.Category,
			Ordinal:  q.Ordinal,
			Text:     q.Text,
		})
	}
	saved, err := s.store.SaveFollowUpBatch(ctx, recordID, batch)
	if err != nil {
		return nil, err
	}
	if saved {
		s.logger.Info("follow-ups generated", slog.String("record_id", recordID), slog.Int("questions", len(batch)))
	}
	return s.store.ListFollowUps(ctx, recordID)
}

func (s *Service) generate(ctx context.Context, record store.Record) ([]Question, error) {
	if s.generator == nil {
		return nil, errors.New("no follow-up generator configured")
	}
	reply, err := s.generator.Complete(ctx, SystemPrompt(record.FormType), FormatCase(record.FormType, record.Content))
	if err != nil {
		return nil, err
	}
	questions := Parse(reply)
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions found in reply")
	}
	return questions, nil
}

// List returns the questions of a record ordered by category and ordinal.
func (s *Service) List(ctx context.Context, recordID string) ([]store.FollowUpQuestion, error) {
	if _, err := s.store.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.store.ListFollowUps(ctx, recordID)
}

// Answer stores a text answer, an audio answer reference, or both.
func (s *Service) Answer(ctx context.Context, recordID, questionID, text, audioQuestionID string) (store.FollowUpQuestion, error) {
	text = strings.TrimSpace(text)
	audioQuestionID = strings.TrimSpace(audioQuestionID)
	if text == "" && audioQuestionID == "" {
		return store.FollowUpQuestion{}, failure.New(failure.ErrValidation, "answer follow-up", "an answer needs text or audio")
	}
	return s.store.AnswerFollowUp(ctx, recordID, questionID, text, audioQuestionID)
}

// AudioQuestionID is the media question id under which a spoken answer to a
// follow-up is versioned on the record.
func AudioQuestionID(questionID string) string {
	return "followup:" + questionID
}

// Recover retries generation for records whose batch failed or has been
// pending since before cutoff. It returns how many batches are now ready.
func (s *Service) Recover(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	records, err := s.store.ListRecordsNeedingFollowUps(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, r := range records {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		if _, err := s.Generate(ctx, r.ID); err != nil {
			continue
		}
		recovered++
	}
	if len(records) > 0 {
		s.logger.Info("follow-up recovery finished", slog.Int("candidates", len(records)), slog.Int("recovered", recovered))
	}
	return recovered, nil
}
