// Package lifecycle owns the path of a case from draft to permanent record:
// opening and saving drafts, promoting a draft exactly once, and the
// post-commit follow-up and indexing work that hangs off a new record.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/worker"
)

const (
	defaultCaseStartDate = "2025-01-01"
	recoverBatchSize     = 100
)

// MsgDraftSafe is the message a caller sees when promotion failed and the
// draft was left untouched.
const MsgDraftSafe = "submission failed, your draft is safe"

// Store is the persistence the manager needs.
type Store interface {
	WithTx(ctx context.Context, op string, fn func(*store.Tx) error) error
	GetOrCreateDraft(ctx context.Context, contributorKey, formType string) (store.Draft, bool, error)
	GetDraft(ctx context.Context, contributorKey, formType string) (store.Draft, error)
	UpdateDraft(ctx context.Context, contributorKey, draftID string, content store.Content) (store.Draft, error)
	DeleteDraft(ctx context.Context, contributorKey, formType string) (bool, error)
	GetRecord(ctx context.Context, recordID string) (store.Record, error)
	GetRecordByDraftID(ctx context.Context, draftID string) (store.Record, error)
	LatestRecord(ctx context.Context, contributorKey, formType string) (store.Record, error)
	ListRecords(ctx context.Context, contributorKey string) ([]store.Record, error)
	AmendRecordAnswers(ctx context.Context, recordID string, answers map[string]string) (store.Record, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// FollowUps generates follow-up batches. followup.Service implements it.
type FollowUps interface {
	Generate(ctx context.Context, recordID string) ([]store.FollowUpQuestion, error)
	Recover(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Indexer mirrors records into the search index. search.Service implements it.
type Indexer interface {
	IndexRecord(r store.Record)
	DeleteRecord(id string)
}

// Dispatcher runs tasks in the background. worker.Pool implements it.
type Dispatcher interface {
	Submit(name string, t worker.Task) bool
}

// FinalizeResult describes a submission. Duplicate is set when the submit was
// a no-op because the draft had already been promoted. Advisories carry
// post-commit problems that did not affect the record.
type FinalizeResult struct {
	Record     store.Record
	Duplicate  bool
	MediaMoved int64
	Advisories []string
}

type Manager struct {
	store         Store
	followUps     FollowUps
	indexer       Indexer
	dispatcher    Dispatcher
	formTypes     map[string]struct{}
	caseStartDate string
	now           func() time.Time
	logger        *slog.Logger

	// beforeInsert runs between ordinal allocation and the record write.
	beforeInsert func(ordinal int) error
}

type Option func(*Manager)

func WithFollowUps(f FollowUps) Option {
	return func(m *Manager) { m.followUps = f }
}

func WithIndexer(i Indexer) Option {
	return func(m *Manager) { m.indexer = i }
}

// WithDispatcher moves follow-up generation off the request path.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithFormTypes restricts the accepted form types. Without it any non-empty
// form type is accepted.
func WithFormTypes(types ...string) Option {
	return func(m *Manager) {
		m.formTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			m.formTypes[t] = struct{}{}
		}
	}
}

func WithCaseStartDate(date string) Option {
	return func(m *Manager) {
		if date != "" {
			m.caseStartDate = date
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(st Store, opts ...Option) *Manager {
	m := &Manager{
		store:         st,
		caseStartDate: defaultCaseStartDate,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the contributor's draft for formType, creating an empty one
// when none exists.
func (m *Manager) Open(ctx context.Context, contributorKey, formType string) (store.Draft, bool, error) {
	if err := m.checkFormType("open draft", formType); err != nil {
		return store.Draft{}, false, err
	}
	draft, created, err := m.store.GetOrCreateDraft(ctx, contributorKey, formType)
	if err != nil {
		return store.Draft{}, false, err
	}
	if created {
		m.logger.Info("draft opened", slog.String("contributor", contributorKey), slog.String("form_type", formType))
	}
	return draft, created, nil
}

// Save replaces the draft's content. It fails with failure.ErrNotFound once
// the draft has been submitted or discarded.
func (m *Manager) Save(ctx context.Context, contributorKey, formType, draftID string, content store.Content) (store.Draft, error) {
	if err := m.checkFormType("save draft", formType); err != nil {
		return store.Draft{}, err
	}
	current, err := m.store.GetDraft(ctx, contributorKey, formType)
	if err != nil {
		return store.Draft{}, err
	}
	if current.ID != draftID {
		return store.Draft{}, failure.New(failure.ErrNotFound, "save draft", "draft %s not found", draftID)
	}
	return m.store.UpdateDraft(ctx, contributorKey, draftID, content)
}

// Discard deletes the draft so the contributor can start fresh.
func (m *Manager) Discard(ctx context.Context, contributorKey, formType string) (bool, error) {
	if err := m.checkFormType("discard draft", formType); err != nil {
		return false, err
	}
	deleted, err := m.store.DeleteDraft(ctx, contributorKey, formType)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info("draft discarded", slog.String("contributor", contributorKey), slog.String("form_type", formType))
	}
	return deleted, nil
}

// Finalize promotes the draft identified by draftID into a permanent record.
// Everything from loading the draft to deleting it happens in one
// transaction; on any storage failure the draft is left as it was and the
// error carries failure.ErrStorageUnavailable.
func (m *Manager) Finalize(ctx context.Context, contributorKey, formType, draftID string) (FinalizeResult, error) {
	if err := m.checkFormType("finalize", formType); err != nil {
		return FinalizeResult{}, err
	}

	var (
		record    store.Record
		moved     int64
		duplicate bool
	)
	err := m.store.WithTx(ctx, "finalize", func(tx *store.Tx) error {
		record, moved, duplicate = store.Record{}, 0, false

		draft, err := tx.LoadDraft(ctx, contributorKey, formType)
		if failure.Is(err, failure.ErrNotFound) {
			duplicate = true
			return nil
		}
		if err != nil {
			return err
		}
		if draftID != "" && draft.ID != draftID {
			duplicate = true
			return nil
		}
		if err := ValidateDemographics(draft.Content.Demographics); err != nil {
			return err
		}

		ordinal, err := tx.NextOrdinal(ctx, contributorKey)
		if err != nil {
			return err
		}
		if m.beforeInsert != nil {
			if err := m.beforeInsert(ordinal); err != nil {
				return err
			}
		}

		record = store.Record{
			ID:             keys.RecordID(contributorKey, ordinal),
			ContributorKey: contributorKey,
			Ordinal:        ordinal,
			FormType:       formType,
			DraftID:        draft.ID,
			Content:        draft.Content,
			CaseStartDate:  m.caseStartDate,
			CreatedAt:      tx.Now(),
			FollowUpStatus: store.FollowUpPending,
		}
		if err := tx.InsertRecord(ctx, record); err != nil {
			return err
		}
		if moved, err = tx.RekeyMedia(ctx, keys.DraftOwner(draft.ID), keys.RecordOwner(record.ID)); err != nil {
			return err
		}
		return tx.DeleteDraft(ctx, draft.ID)
	})
	if err != nil {
		switch failure.KindOf(err) {
		case failure.ErrValidation, failure.ErrNotFound:
			return FinalizeResult{}, err
		}
		m.logger.Error("finalize failed", slog.String("contributor", contributorKey), slog.String("form_type", formType),
			slog.String("error", err.Error()))
		return FinalizeResult{}, failure.Wrap(failure.ErrStorageUnavailable, "finalize", fmt.Errorf("%s: %w", MsgDraftSafe, err))
	}

	if duplicate {
		return m.duplicateResult(ctx, contributorKey, formType, draftID)
	}

	m.logger.Info("record finalized", slog.String("record_id", record.ID), slog.String("form_type", formType),
		slog.Int64("media_moved", moved))
	result := FinalizeResult{Record: record, MediaMoved: moved}
	result.Advisories = m.afterCommit(ctx, record)
	return result, nil
}

func (m *Manager) duplicateResult(ctx context.Context, contributorKey, formType, draftID string) (FinalizeResult, error) {
	if draftID != "" {
		record, err := m.store.GetRecordByDraftID(ctx, draftID)
		if err == nil && record.ContributorKey == contributorKey {
			return FinalizeResult{Record: record, Duplicate: true}, nil
		}
		if err != nil && !failure.Is(err, failure.ErrNotFound) {
			return FinalizeResult{}, err
		}
	}
	record, err := m.store.LatestRecord(ctx, contributorKey, formType)
	if failure.Is(err, failure.ErrNotFound) {
		return FinalizeResult{}, failure.New(failure.ErrNotFound, "finalize", "no %s draft to submit", formType)
	}
	if err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Record: record, Duplicate: true}, nil
}

func (m *Manager) afterCommit(ctx context.Context, record store.Record) []string {
	var advisories []string
	if m.indexer != nil {
		m.indexer.IndexRecord(record)
	}
	if m.followUps == nil {
		return advisories
	}

	recordID := record.ID
	if m.dispatcher != nil {
		queued := m.dispatcher.Submit("followups "+recordID, func(ctx context.Context) error {
			_, err := m.followUps.Generate(ctx, recordID)
			return err
		})
		if !queued {
			advisories = append(advisories, "follow-up questions are delayed and will be retried")
		}
		return advisories
	}
	if _, err := m.followUps.Generate(ctx, recordID); err != nil {
		advisories = append(advisories, "follow-up questions could not be generated yet and will be retried")
	}
	return advisories
}

// RecoverFollowUps re-requests follow-up batches that failed or have been
// pending for longer than grace.
func (m *Manager) RecoverFollowUps(ctx context.Context, grace time.Duration) (int, error) {
	if m.followUps == nil {
		return 0, nil
	}
	return m.followUps.Recover(ctx, m.now().Add(-grace), recoverBatchSize)
}

// Records lists the contributor's records in ordinal order.
func (m *Manager) Records(ctx context.Context, contributorKey string) ([]store.Record, error) {
	return m.store.ListRecords(ctx, contributorKey)
}

// Record returns a record owned by contributorKey. Records of other
// contributors are reported as not found. An empty key skips the check.
func (m *Manager) Record(ctx context.Context, contributorKey, recordID string) (store.Record, error) {
	record, err := m.store.GetRecord(ctx, recordID)
	if err != nil {
		return store.Record{}, err
	}
	if contributorKey != "" && record.ContributorKey != contributorKey {
		return store.Record{}, failure.New(failure.ErrNotFound, "get record", "record %s not found", recordID)
	}
	return record, nil
}

// AmendAnswers merges narrative answers into a finalized record. Existing
// answers may be replaced but not cleared; a blank value is a validation
// error. The record's identity and demographics are left as they are.
func (m *Manager) AmendAnswers(ctx context.Context, contributorKey, recordID string, answers map[string]string) (store.Record, error) {
	if len(answers) == 0 {
		return store.Record{}, failure.New(failure.ErrValidation, "amend record", "no answers given")
	}
	var blank []string
	for questionID, answer := range answers {
		if strings.TrimSpace(answer) == "" {
			blank = append(blank, questionID)
		}
	}
	if len(blank) > 0 {
		sort.Strings(blank)
		return store.Record{}, failure.New(failure.ErrValidation, "amend record", "answers cannot be cleared: %s", strings.Join(blank, ", "))
	}
	if _, err := m.Record(ctx, contributorKey, recordID); err != nil {
		return store.Record{}, err
	}
	record, err := m.store.AmendRecordAnswers(ctx, recordID, answers)
	if err != nil {
		return store.Record{}, err
	}
	if m.indexer != nil {
		m.indexer.IndexRecord(record)
	}
	m.logger.Info("record amended", slog.String("record_id", recordID), slog.Int("answers", len(answers)))
	return record, nil
}

// DeleteRecord removes a record. Its ordinal is retired, not reused.
func (m *Manager) DeleteRecord(ctx context.Context, recordID string) error {
	if err := m.store.DeleteRecord(ctx, recordID); err != nil {
		return err
	}
	if m.indexer != nil {
		m.indexer.DeleteRecord(recordID)
	}
	m.logger.Info("record deleted", slog.String("record_id", recordID))
	return nil
}

func (m *Manager) checkFormType(op, formType string) error {
	if strings.TrimSpace(formType) == "" {
		return failure.New(failure.ErrValidation, op, "form type is required")
	}
	if m.formTypes == nil {
		return nil
	}
	if _, ok := m.formTypes[formType]; !ok {
		return failure.New(failure.ErrValidation, op, "unknown form type %q", formType)
	}
	return nil
}

// ValidateDemographics checks the fields a record cannot be finalized without.
func ValidateDemographics(d store.Demographics) error {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"age", d.Age},
		{"gender", d.Gender},
		{"race", d.Race},
		{"state", d.State},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return failure.New(failure.ErrValidation, "finalize", "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
