package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/autosave"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/followup"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/identity"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/lifecycle"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/media"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/rbac"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/search"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

// Store is the slice of persistence the HTTP layer reaches directly.
type Store interface {
	Ping(ctx context.Context) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]store.Setting, error)
	ListRecentRecords(ctx context.Context, limit int) ([]store.Record, error)
}

// Pinger is an optional dependency checked by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the domain services into the HTTP layer.
type Deps struct {
	Store     Store
	Sessions  Pinger
	Identity  *identity.Service
	Lifecycle *lifecycle.Manager
	Autosave  *autosave.Scheduler
	Media     *media.Service
	FollowUps *followup.Service
	Search    *search.Service
	Logger    *slog.Logger
}

type Service struct {
	store     Store
	sessions  Pinger
	identity  *identity.Service
	lifecycle *lifecycle.Manager
	autosave  *autosave.Scheduler
	media     *media.Service
	followUps *followup.Service
	search    *search.Service
	logger    *slog.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     deps.Store,
		sessions:  deps.Sessions,
		identity:  deps.Identity,
		lifecycle: deps.Lifecycle,
		autosave:  deps.Autosave,
		media:     deps.Media,
		followUps: deps.FollowUps,
		search:    deps.Search,
		logger:    logger,
	}
}

// Ready pings the database and, when configured, the session backend.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	check("database", s.store)
	check("sessions", s.sessions)
	return ready, checks
}

func (s *Service) Can(p identity.Principal, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(p.Role), action)
}

func (s *Service) Register(ctx context.Context, name, pin string) (identity.Session, error) {
	return s.identity.Register(ctx, name, pin)
}

func (s *Service) Login(ctx context.Context, name, pin string) (identity.Session, error) {
	return s.identity.Authenticate(ctx, name, pin)
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.identity.Logout(ctx, token)
}

func (s *Service) Resolve(ctx context.Context, token string) (identity.Principal, error) {
	return s.identity.Resolve(ctx, token)
}

// Heartbeat reports the session's timeout state. A qualifying heartbeat
// counts as activity; a plain one does not.
func (s *Service) Heartbeat(ctx context.Context, p identity.Principal, qualifying bool) (autosave.Result, error) {
	return s.autosave.Interact(ctx, p.TokenHash, autosave.Interaction{Qualifying: qualifying})
}

func (s *Service) touch(ctx context.Context, p identity.Principal) {
	if _, err := s.autosave.Interact(ctx, p.TokenHash, autosave.Interaction{Qualifying: true}); err != nil {
		s.logger.Debug("record activity failed", slog.String("contributor", p.ContributorKey), slog.String("error", err.Error()))
	}
}

// DraftView is the draft payload together with its resume summary.
type DraftView struct {
	Draft   store.Draft
	Created bool
	Summary lifecycle.DraftSummary
}

func (s *Service) OpenDraft(ctx context.Context, p identity.Principal, formType string) (DraftView, error) {
	draft, created, err := s.lifecycle.Open(ctx, p.ContributorKey, formType)
	if err != nil {
		return DraftView{}, err
	}
	summary, err := s.lifecycle.Summary(ctx, p.ContributorKey, formType)
	if err != nil {
		return DraftView{}, err
	}
	s.touch(ctx, p)
	return DraftView{Draft: draft, Created: created, Summary: summary}, nil
}

func (s *Service) SaveDraft(ctx context.Context, p identity.Principal, formType, draftID string, content store.Content) (store.Draft, error) {
	draft, err := s.lifecycle.Save(ctx, p.ContributorKey, formType, draftID, content)
	if err != nil {
		return store.Draft{}, err
	}
	s.touch(ctx, p)
	return draft, nil
}

// Autosave hands the in-progress form to the scheduler, which decides whether
// it is time to persist it. A draftID that is not the current draft of
// formType is reported as gone so one form can never overwrite another.
func (s *Service) Autosave(ctx context.Context, p identity.Principal, formType, draftID string, content store.Content, qualifying bool) (autosave.Result, error) {
	summary, err := s.lifecycle.Summary(ctx, p.ContributorKey, formType)
	if err != nil {
		if failure.Is(err, failure.ErrNotFound) {
			return autosave.Result{DraftGone: true}, nil
		}
		return autosave.Result{}, err
	}
	if summary.DraftID != draftID {
		return autosave.Result{DraftGone: true}, nil
	}
	return s.autosave.Interact(ctx, p.TokenHash, autosave.Interaction{
		Qualifying: qualifying,
		Form:       &autosave.FormState{DraftID: draftID, Content: content},
	})
}

func (s *Service) DiscardDraft(ctx context.Context, p identity.Principal, formType string) (bool, error) {
	return s.lifecycle.Discard(ctx, p.ContributorKey, formType)
}

func (s *Service) SubmitDraft(ctx context.Context, p identity.Principal, formType, draftID string) (lifecycle.FinalizeResult, error) {
	result, err := s.lifecycle.Finalize(ctx, p.ContributorKey, formType, draftID)
	if err != nil {
		return lifecycle.FinalizeResult{}, err
	}
	s.touch(ctx, p)
	return result, nil
}

// draftOwner resolves the media owner of the contributor's draft, creating
// the draft when a recording arrives before any typed answer.
func (s *Service) draftOwner(ctx context.Context, p identity.Principal, formType string, create bool) (string, error) {
	if create {
		draft, _, err := s.lifecycle.Open(ctx, p.ContributorKey, formType)
		if err != nil {
			return "", err
		}
		return keys.DraftOwner(draft.ID), nil
	}
	summary, err := s.lifecycle.Summary(ctx, p.ContributorKey, formType)
	if err != nil {
		return "", err
	}
	return keys.DraftOwner(summary.DraftID), nil
}

// recordOwner checks access to recordID and returns its media owner.
func (s *Service) recordOwner(ctx context.Context, p identity.Principal, recordID string) (string, error) {
	if _, err := s.Record(ctx, p, recordID); err != nil {
		return "", err
	}
	return keys.RecordOwner(recordID), nil
}

func (s *Service) AddAudio(ctx context.Context, p identity.Principal, owner, questionID string, audio []byte, contentType string) (store.AudioVersion, error) {
	v, err := s.media.AddVersion(ctx, owner, questionID, audio, contentType)
	if err != nil {
		return store.AudioVersion{}, err
	}
	s.touch(ctx, p)
	// The transcript may have been filled in synchronously.
	if current, err := s.media.Current(ctx, owner, questionID); err == nil && current.Version == v.Version {
		v = current
	}
	return v, nil
}

func (s *Service) AudioHistory(ctx context.Context, owner, questionID string) ([]store.AudioVersion, error) {
	return s.media.History(ctx, owner, questionID)
}

func (s *Service) AudioBytes(ctx context.Context, owner, questionID string, version int) ([]byte, string, error) {
	return s.media.Audio(ctx, owner, questionID, version)
}

func (s *Service) EditTranscript(ctx context.Context, p identity.Principal, owner, questionID string, version int, text string) (store.AudioVersion, error) {
	v, err := s.media.EditTranscript(ctx, owner, questionID, version, text)
	if err != nil {
		return store.AudioVersion{}, err
	}
	s.touch(ctx, p)
	return v, nil
}

// Transcribe runs transcription for one version on request. A failure is
// recorded on the version and reported back as an advisory.
func (s *Service) Transcribe(ctx context.Context, p identity.Principal, owner, questionID string, version int) (store.AudioVersion, string, error) {
	if !s.Can(p, rbac.ActionTranscribe) {
		return store.AudioVersion{}, "", errForbidden
	}
	v, err := s.media.Transcribe(ctx, owner, questionID, version)
	if failure.Is(err, failure.ErrExternalService) {
		current, getErr := s.media.History(ctx, owner, questionID)
		if getErr == nil {
			for _, candidate := range current {
				if candidate.Version == version {
					v = candidate
				}
			}
		}
		return v, "transcription failed and will be retried", nil
	}
	return v, "", err
}

// RecordView is the persisted export shape of a record.
type RecordView struct {
	Record      store.Record
	Transcripts map[string]string
}

func (s *Service) Records(ctx context.Context, p identity.Principal) ([]store.Record, error) {
	return s.lifecycle.Records(ctx, p.ContributorKey)
}

func (s *Service) RecentRecords(ctx context.Context, p identity.Principal, limit int) ([]store.Record, error) {
	if !s.Can(p, rbac.ActionReadAll) {
		return nil, errForbidden
	}
	return s.store.ListRecentRecords(ctx, limit)
}

// Record returns a record the principal may read. Admins read any record.
func (s *Service) Record(ctx context.Context, p identity.Principal, recordID string) (store.Record, error) {
	owner := p.ContributorKey
	if s.Can(p, rbac.ActionReadAll) {
		owner = ""
	}
	return s.lifecycle.Record(ctx, owner, recordID)
}

func (s *Service) RecordExport(ctx context.Context, p identity.Principal, recordID string) (RecordView, error) {
	record, err := s.Record(ctx, p, recordID)
	if err != nil {
		return RecordView{}, err
	}
	latest, err := s.media.Latest(ctx, keys.RecordOwner(recordID))
	if err != nil {
		return RecordView{}, err
	}
	transcripts := make(map[string]string, len(latest))
	for questionID, v := range latest {
		transcripts[questionID] = v.Transcript()
	}
	return RecordView{Record: record, Transcripts: transcripts}, nil
}

func (s *Service) AmendAnswers(ctx context.Context, p identity.Principal, recordID string, answers map[string]string) (store.Record, error) {
	record, err := s.lifecycle.AmendAnswers(ctx, p.ContributorKey, recordID, answers)
	if err != nil {
		return store.Record{}, err
	}
	s.touch(ctx, p)
	return record, nil
}

func (s *Service) DeleteRecord(ctx context.Context, p identity.Principal, recordID string) error {
	if !s.Can(p, rbac.ActionDelete) {
		return errForbidden
	}
	return s.lifecycle.DeleteRecord(ctx, recordID)
}

func (s *Service) FollowUps(ctx context.Context, p identity.Principal, recordID string) ([]store.FollowUpQuestion, error) {
	if _, err := s.Record(ctx, p, recordID); err != nil {
		return nil, err
	}
	return s.followUps.List(ctx, recordID)
}

// RetryFollowUps asks for the record's follow-up batch again. Generation
// failures come back as an advisory with the record's current status.
func (s *Service) RetryFollowUps(ctx context.Context, p identity.Principal, recordID string) ([]store.FollowUpQuestion, string, error) {
	if _, err := s.Record(ctx, p, recordID); err != nil {
		return nil, "", err
	}
	questions, err := s.followUps.Generate(ctx, recordID)
	if failure.Is(err, failure.ErrExternalService) {
		return []store.FollowUpQuestion{}, "follow-up questions could not be generated yet and will be retried", nil
	}
	return questions, "", err
}

// AnswerFollowUp stores a typed answer and, when withAudio is set, links the
// current recording of the follow-up.
func (s *Service) AnswerFollowUp(ctx context.Context, p identity.Principal, recordID, questionID, text string, withAudio bool) (store.FollowUpQuestion, error) {
	if _, err := s.Record(ctx, p, recordID); err != nil {
		return store.FollowUpQuestion{}, err
	}
	audioQuestionID := ""
	if withAudio {
		audioQuestionID = followup.AudioQuestionID(questionID)
		if _, err := s.media.Current(ctx, keys.RecordOwner(recordID), audioQuestionID); err != nil {
			if failure.Is(err, failure.ErrNotFound) {
				return store.FollowUpQuestion{}, failure.New(failure.ErrValidation, "answer follow-up", "no recording for follow-up %s", questionID)
			}
			return store.FollowUpQuestion{}, err
		}
	}
	answered, err := s.followUps.Answer(ctx, recordID, questionID, text, audioQuestionID)
	if err != nil {
		return store.FollowUpQuestion{}, err
	}
	s.touch(ctx, p)
	return answered, nil
}

func (s *Service) Search(p identity.Principal, text string, limit int) search.Response {
	q := search.Query{Text: text, Limit: limit, ContributorKey: p.ContributorKey}
	if s.Can(p, rbac.ActionReadAll) {
		q.ContributorKey = ""
	}
	return s.search.Search(q)
}

var settingKeys = map[string]struct{}{
	store.SettingTranscriptionModelSize: {},
}

func (s *Service) Setting(ctx context.Context, p identity.Principal, key string) (string, error) {
	if !s.Can(p, rbac.ActionSettings) {
		return "", errForbidden
	}
	value, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", failure.New(failure.ErrNotFound, "get setting", "setting %s not set", key)
	}
	return value, nil
}

func (s *Service) Settings(ctx context.Context, p identity.Principal) ([]store.Setting, error) {
	if !s.Can(p, rbac.ActionSettings) {
		return nil, errForbidden
	}
	return s.store.ListSettings(ctx)
}

func (s *Service) SetSetting(ctx context.Context, p identity.Principal, key, value string) error {
	if !s.Can(p, rbac.ActionSettings) {
		return errForbidden
	}
	if _, ok := settingKeys[key]; !ok {
		return failure.New(failure.ErrValidation, "set setting", "unknown setting %q", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return failure.New(failure.ErrValidation, "set setting", "value is required")
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	s.logger.Info("setting changed", slog.String("key", key), slog.String("by", p.ContributorKey))
	return nil
}

func secondsOf(d time.Duration) int64 {
	return int64(d / time.Second)
}
