// Package media keeps versioned audio answers and their transcripts.
//
// Every recording for a (owner, question) pair is a new version numbered from
// 1. Audio bytes live in a BlobStore under their content address; the version
// rows, including the write-once original transcript and the editable
// transcript, live in SQL.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/worker"
)

// MaxAudioBytes bounds a single upload.
const MaxAudioBytes = 25 << 20

// BlobStore is implemented by store.Store (SQL table) and MinioBlobs.
type BlobStore interface {
	PutBlob(ctx context.Context, key, contentType string, data []byte) error
	GetBlob(ctx context.Context, key string) ([]byte, string, error)
}

type VersionStore interface {
	InsertAudioVersion(ctx context.Context, v store.AudioVersion) (store.AudioVersion, error)
	GetAudioVersion(ctx context.Context, owner, questionID string, version int) (store.AudioVersion, error)
	CurrentAudioVersion(ctx context.Context, owner, questionID string) (store.AudioVersion, error)
	ListAudioVersions(ctx context.Context, owner, questionID string) ([]store.AudioVersion, error)
	ListOwnerAudio(ctx context.Context, owner string) ([]store.AudioVersion, error)
	ListTranscriptsNeedingWork(ctx context.Context, cutoff time.Time, limit int) ([]store.AudioVersion, error)
	SetOriginalTranscript(ctx context.Context, owner, questionID string, version int, text string) (bool, error)
	MarkTranscript(ctx context.Context, owner, questionID string, version int, status, reason string) error
	UpdateEditedTranscript(ctx context.Context, owner, questionID string, version int, text string) (store.AudioVersion, error)
	SetDraftAudioFlag(ctx context.Context, draftID, questionID string, present bool) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Transcriber is the speech-to-text boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType, modelSize string) (string, error)
}

// Dispatcher runs work after the request returns. worker.Pool implements it.
type Dispatcher interface {
	Submit(name string, t worker.Task) bool
}

type Service struct {
	versions         VersionStore
	blobs            BlobStore
	transcriber      Transcriber
	dispatcher       Dispatcher
	defaultModelSize string
	logger           *slog.Logger
}

type Option func(*Service)

// WithTranscriber enables transcription. Without one, versions stay pending.
func WithTranscriber(t Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

// WithDispatcher moves transcription off the calling goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func WithDefaultModelSize(size string) Option {
	return func(s *Service) {
		if strings.TrimSpace(size) != "" {
			s.defaultModelSize = strings.TrimSpace(size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(versions VersionStore, blobs BlobStore, opts ...Option) *Service {
	s := &Service{
		versions:         versions,
		blobs:            blobs,
		defaultModelSize: "base",
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BlobKey is the content address of audio.
func BlobKey(audio []byte) string {
	sum := sha256.Sum256(audio)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// AddVersion stores audio as the next version for (owner, questionID) and
// requests its transcription. The transcript starts out pending.
func (s *Service) AddVersion(ctx context.Context, owner, questionID string, audio []byte, contentType string) (store.AudioVersion, error) {
	questionID = strings.TrimSpace(questionID)
	switch {
	case owner == "":
		return store.AudioVersion{}, failure.New(failure.ErrValidation, "add audio version", "owner is required")
	case questionID == "":
		return store.AudioVersion{}, failure.New(failure.ErrValidation, "add audio version", "question id is required")
	case len(audio) == 0:
		return store.AudioVersion{}, failure.New(failure.ErrValidation, "add audio version", "audio is empty")
	case len(audio) > MaxAudioBytes:
		return store.AudioVersion{}, failure.New(failure.ErrValidation, "add audio version", "audio exceeds %d bytes", MaxAudioBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := BlobKey(audio)
	if err := s.blobs.PutBlob(ctx, key, contentType, audio); err != nil {
		return store.AudioVersion{}, err
	}
	v, err := s.versions.InsertAudioVersion(ctx, store.AudioVersion{
		OwnerRef:    owner,
		QuestionID:  questionID,
		BlobKey:     key,
		ContentType: contentType,
		Size:        int64(len(audio)),
	})
	if err != nil {
		return store.AudioVersion{}, err
	}
	if draftID, ok := keys.DraftIDFromOwner(owner); ok {
		if err := s.versions.SetDraftAudioFlag(ctx, draftID, questionID, true); err != nil && !errors.Is(err, failure.ErrNotFound) {
			s.logger.Warn("set draft audio flag failed", slog.String("draft_id", draftID), slog.String("error", err.Error()))
		}
	}
	s.logger.Info("audio version stored",
		slog.String("owner", owner),
		slog.String("question", questionID),
		slog.Int("version", v.Version),
		slog.Int64("size", v.Size))

	s.requestTranscript(ctx, v)
	return v, nil
}

func (s *Service) requestTranscript(ctx context.Context, v store.AudioVersion) {
	if s.transcriber == nil {
		return
	}
	owner, questionID, version := v.OwnerRef, v.QuestionID, v.Version
	if s.dispatcher != nil {
		accepted := s.dispatcher.Submit("transcribe", func(ctx context.Context) error {
			_, err := s.Transcribe(ctx, owner, questionID, version)
			return err
		})
		if accepted {
			return
		}
	}
	// Transcription failures are advisory and already recorded on the version.
	_, _ = s.Transcribe(ctx, owner, questionID, version)
}

// Transcribe fills in the original transcript of a version. A version that
// already has one is returned unchanged. Failures mark the version failed and
// are returned as failure.ErrExternalService.
func (s *Service) Transcribe(ctx context.Context, owner, questionID string, version int) (store.AudioVersion, error) {
	v, err := s.versions.GetAudioVersion(ctx, owner, questionID, version)
	if err != nil {
		return store.AudioVersion{}, err
	}
	if v.OriginalTranscript != nil {
		return v, nil
	}
	if s.transcriber == nil {
		return v, failure.New(failure.ErrExternalService, "transcribe", "no transcription service configured")
	}

	audio, contentType, err := s.blobs.GetBlob(ctx, v.BlobKey)
	if err != nil {
		return v, err
	}
	modelSize := s.modelSize(ctx)
	text, err := s.transcriber.Transcribe(ctx, audio, contentType, modelSize)
	if err != nil {
		reason := err.Error()
		if markErr := s.versions.MarkTranscript(ctx, owner, questionID, version, store.TranscriptFailed, reason); markErr != nil {
			s.logger.Warn("mark transcript failed", slog.String("owner", owner), slog.String("error", markErr.Error()))
		}
		s.logger.Warn("transcription failed",
			slog.String("owner", owner),
			slog.String("question", questionID),
			slog.Int("version", version),
			slog.String("error", reason))
		return v, failure.Wrap(failure.ErrExternalService, "transcribe", err)
	}

	stored, err := s.versions.SetOriginalTranscript(ctx, owner, questionID, version, text)
	if err != nil {
		return v, err
	}
	if stored {
		s.logger.Info("transcript stored",
			slog.String("owner", owner),
			slog.String("question", questionID),
			slog.Int("version", version),
			slog.String("model_size", modelSize))
	}
	return s.versions.GetAudioVersion(ctx, owner, questionID, version)
}

func (s *Service) modelSize(ctx context.Context) string {
	value, ok, err := s.versions.GetSetting(ctx, store.SettingTranscriptionModelSize)
	if err != nil {
		s.logger.Warn("read model size setting failed", slog.String("error", err.Error()))
	}
	if ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return s.defaultModelSize
}

// EditTranscript replaces the edited transcript of a version.
func (s *Service) EditTranscript(ctx context.Context, owner, questionID string, version int, text string) (store.AudioVersion, error) {
	return s.versions.UpdateEditedTranscript(ctx, owner, questionID, version, text)
}

// Current returns the highest version, or failure.ErrNotFound when none exists.
func (s *Service) Current(ctx context.Context, owner, questionID string) (store.AudioVersion, error) {
	return s.versions.CurrentAudioVersion(ctx, owner, questionID)
}

func (s *Service) History(ctx context.Context, owner, questionID string) ([]store.AudioVersion, error) {
	return s.versions.ListAudioVersions(ctx, owner, questionID)
}

// Latest returns the current version of every question held by owner.
func (s *Service) Latest(ctx context.Context, owner string) (map[string]store.AudioVersion, error) {
	all, err := s.versions.ListOwnerAudio(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.AudioVersion, len(all))
	for _, v := range all {
		if cur, ok := out[v.QuestionID]; !ok || v.Version > cur.Version {
			out[v.QuestionID] = v
		}
	}
	return out, nil
}

// Audio returns the bytes of a version.
func (s *Service) Audio(ctx context.Context, owner, questionID string, version int) ([]byte, string, error) {
	v, err := s.versions.GetAudioVersion(ctx, owner, questionID, version)
	if err != nil {
		return nil, "", err
	}
	data, contentType, err := s.blobs.GetBlob(ctx, v.BlobKey)
	if err != nil {
		return nil, "", fmt.Errorf("read audio %s: %w", v.BlobKey, err)
	}
	if contentType == "" {
		contentType = v.ContentType
	}
	return data, contentType, nil
}

// RecoverTranscripts retries versions left pending since before cutoff and
// versions whose transcription failed. It returns how many now have a
// transcript.
func (s *Service) RecoverTranscripts(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if s.transcriber == nil {
		return 0, nil
	}
	pending, err := s.versions.ListTranscriptsNeedingWork(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, v := range pending {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		if _, err := s.Transcribe(ctx, v.OwnerRef, v.QuestionID, v.Version); err != nil {
			continue
		}
		recovered++
	}
	if len(pending) > 0 {
		s.logger.Info("transcript recovery finished", slog.Int("candidates", len(pending)), slog.Int("recovered", recovered))
	}
	return recovered, nil
}
