package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/logging"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/worker"
)

var completeDemographics = store.Demographics{Age: "81", Gender: "Female", Race: "White", State: "PA"}

type fakeFollowUps struct {
	mu        sync.Mutex
	generated []string
	err       error
	recovered time.Time
}

func (f *fakeFollowUps) Generate(ctx context.Context, recordID string) ([]store.FollowUpQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, recordID)
	return nil, f.err
}

func (f *fakeFollowUps) Recover(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.recovered = cutoff
	return 2, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakeIndexer) IndexRecord(r store.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r.ID)
}

func (f *fakeIndexer) DeleteRecord(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type rejectingDispatcher struct{}

func (rejectingDispatcher) Submit(string, worker.Task) bool { return false }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "intake.db"), store.WithTxBackoff(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.CreateContributor(ctx, store.Contributor{Key: "jane_doe", DisplayName: "Jane Doe", PINHash: "x"})
	require.NoError(t, err)

	opts = append([]Option{WithLogger(logging.NewNop()), WithFormTypes("abbrev", "abbrev_gen", "full")}, opts...)
	return NewManager(st, opts...), st
}

func openFilled(t *testing.T, m *Manager, formType string) store.Draft {
	t.Helper()
	ctx := context.Background()
	draft, _, err := m.Open(ctx, "jane_doe", formType)
	require.NoError(t, err)
	draft, err = m.Save(ctx, "jane_doe", formType, draft.ID, store.Content{
		Demographics: completeDemographics,
		Answers:      map[string]string{"q6": "Hip fracture after a fall at home."},
	})
	require.NoError(t, err)
	return draft
}

func TestOpenIsIdempotentPerFormType(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, created, err := m.Open(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := m.Open(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, _, err := m.Open(ctx, "jane_doe", "abbrev")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, _, err = m.Open(ctx, "jane_doe", "poem")
	require.ErrorIs(t, err, failure.ErrValidation)
}

func TestFinalizeCreatesSequentialRecordOnce(t *testing.T) {
	indexer := &fakeIndexer{}
	followUps := &fakeFollowUps{}
	m, st := newTestManager(t, WithIndexer(indexer), WithFollowUps(followUps))
	ctx := context.Background()

	draft := openFilled(t, m, "full")
	_, err := st.InsertAudioVersion(ctx, store.AudioVersion{OwnerRef: keys.DraftOwner(draft.ID), QuestionID: "q6", BlobKey: "sha256:aa", ContentType: "audio/webm", Size: 2})
	require.NoError(t, err)

	result, err := m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "jane_doe_1", result.Record.ID)
	assert.Equal(t, "2025-01-01", result.Record.CaseStartDate)
	assert.Equal(t, store.FollowUpPending, result.Record.FollowUpStatus)
	assert.Equal(t, int64(1), result.MediaMoved)
	assert.Empty(t, result.Advisories)

	_, err = st.GetDraft(ctx, "jane_doe", "full")
	require.ErrorIs(t, err, failure.ErrNotFound, "the draft is removed on promotion")

	moved, err := st.CurrentAudioVersion(ctx, keys.RecordOwner("jane_doe_1"), "q6")
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Version)

	again, err := m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, "jane_doe_1", again.Record.ID, "a double submit never produces jane_doe_2")

	records, err := m.Records(ctx, "jane_doe")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, []string{"jane_doe_1"}, indexer.indexed)
	assert.Equal(t, []string{"jane_doe_1"}, followUps.generated)
}

func TestConcurrentFinalizeOfOneDraft(t *testing.T) {
	followUps := &fakeFollowUps{}
	m, _ := newTestManager(t, WithFollowUps(followUps))
	ctx := context.Background()
	draft := openFilled(t, m, "abbrev")

	const attempts = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []FinalizeResult
		errs    []error
	)
	start := make(chan struct{})
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := m.Finalize(ctx, "jane_doe", "abbrev", draft.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			results = append(results, result)
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, results, attempts)
	fresh := 0
	for _, r := range results {
		if !r.Duplicate {
			fresh++
		}
		assert.Equal(t, "jane_doe_1", r.Record.ID)
	}
	assert.Equal(t, 1, fresh, "exactly one submit creates the record")

	records, err := m.Records(ctx, "jane_doe")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, []string{"jane_doe_1"}, followUps.generated)
}

func TestFinalizeStaleDraftIDIsDuplicate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := openFilled(t, m, "abbrev")
	_, err := m.Finalize(ctx, "jane_doe", "abbrev", first.ID)
	require.NoError(t, err)

	second := openFilled(t, m, "abbrev")
	result, err := m.Finalize(ctx, "jane_doe", "abbrev", first.ID)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, "jane_doe_1", result.Record.ID)

	result, err = m.Finalize(ctx, "jane_doe", "abbrev", second.ID)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "jane_doe_2", result.Record.ID)
}

func TestFinalizeWithoutDraftOrRecord(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Finalize(context.Background(), "jane_doe", "full", "missing")
	require.ErrorIs(t, err, failure.ErrNotFound)
}

func TestFinalizeRequiresDemographics(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	draft, _, err := m.Open(ctx, "jane_doe", "full")
	require.NoError(t, err)
	_, err = m.Save(ctx, "jane_doe", "full", draft.ID, store.Content{Demographics: store.Demographics{Age: "70"}})
	require.NoError(t, err)

	_, err = m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.ErrorIs(t, err, failure.ErrValidation)
	assert.Contains(t, err.Error(), "gender, race, state")

	_, err = st.GetDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
}

func TestFinalizeFailureLeavesDraftIntact(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	draft := openFilled(t, m, "full")

	m.beforeInsert = func(int) error { return errors.New("disk unplugged") }
	_, err := m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.ErrorIs(t, err, failure.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), MsgDraftSafe)

	kept, err := st.GetDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.Equal(t, draft.ID, kept.ID)
	assert.Equal(t, "Hip fracture after a fall at home.", kept.Content.Answers["q6"])

	_, err = st.GetRecord(ctx, "jane_doe_1")
	require.ErrorIs(t, err, failure.ErrNotFound)

	m.beforeInsert = nil
	result, err := m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane_doe_1", result.Record.ID, "the rolled back allocation is not consumed")
}

func TestConcurrentFinalizesGetConsecutiveOrdinals(t *testing.T) {
	const n = 50
	formTypes := make([]string, n)
	for i := range formTypes {
		formTypes[i] = fmt.Sprintf("form_%02d", i)
	}
	m, _ := newTestManager(t, WithFormTypes(formTypes...))
	ctx := context.Background()

	drafts := make([]store.Draft, n)
	for i, formType := range formTypes {
		drafts[i] = openFilled(t, m, formType)
	}

	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := range formTypes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := m.Finalize(ctx, "jane_doe", formTypes[i], drafts[i].ID)
			ids[i], errs[i] = result.Record.ID, err
		}(i)
	}
	wg.Wait()

	ordinals := make([]int, 0, n)
	for i := range ids {
		require.NoError(t, errs[i])
		_, ordinal, ok := keys.SplitRecordID(ids[i])
		require.True(t, ok, ids[i])
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)
	for i, ordinal := range ordinals {
		assert.Equal(t, i+1, ordinal)
	}
}

func TestFollowUpFailuresAreAdvisories(t *testing.T) {
	m, _ := newTestManager(t, WithFollowUps(&fakeFollowUps{err: failure.New(failure.ErrExternalService, "generate", "down")}))
	draft := openFilled(t, m, "full")

	result, err := m.Finalize(context.Background(), "jane_doe", "full", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane_doe_1", result.Record.ID)
	require.Len(t, result.Advisories, 1)
}

func TestRejectedDispatchIsAdvisory(t *testing.T) {
	followUps := &fakeFollowUps{}
	m, _ := newTestManager(t, WithFollowUps(followUps), WithDispatcher(rejectingDispatcher{}))
	draft := openFilled(t, m, "full")

	result, err := m.Finalize(context.Background(), "jane_doe", "full", draft.ID)
	require.NoError(t, err)
	assert.Len(t, result.Advisories, 1)
	assert.Empty(t, followUps.generated)
}

func TestRecoverFollowUpsUsesGrace(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	followUps := &fakeFollowUps{}
	m, _ := newTestManager(t, WithFollowUps(followUps), WithClock(func() time.Time { return now }))

	n, err := m.RecoverFollowUps(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-10*time.Minute), followUps.recovered)
}

func TestSaveAndDiscard(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	draft := openFilled(t, m, "full")

	_, err := m.Save(ctx, "jane_doe", "abbrev", draft.ID, store.Content{})
	require.ErrorIs(t, err, failure.ErrNotFound, "a draft id only saves under its own form type")

	deleted, err := m.Discard(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = m.Save(ctx, "jane_doe", "full", draft.ID, store.Content{})
	require.ErrorIs(t, err, failure.ErrNotFound)

	fresh, created, err := m.Open(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, draft.ID, fresh.ID)
	assert.Zero(t, fresh.Content.AnsweredCount())
}

func TestAmendAndDeleteRecord(t *testing.T) {
	indexer := &fakeIndexer{}
	m, st := newTestManager(t, WithIndexer(indexer))
	ctx := context.Background()
	_, err := st.CreateContributor(ctx, store.Contributor{Key: "john_roe", DisplayName: "John Roe", PINHash: "x"})
	require.NoError(t, err)

	draft := openFilled(t, m, "full")
	result, err := m.Finalize(ctx, "jane_doe", "full", draft.ID)
	require.NoError(t, err)

	_, err = m.AmendAnswers(ctx, "john_roe", result.Record.ID, map[string]string{"q6": "not mine"})
	require.ErrorIs(t, err, failure.ErrNotFound)

	_, err = m.AmendAnswers(ctx, "jane_doe", result.Record.ID, map[string]string{"q6": "  "})
	require.ErrorIs(t, err, failure.ErrValidation, "a finalized answer cannot be blanked")
	_, err = st.AmendRecordAnswers(ctx, result.Record.ID, map[string]string{"q6": ""})
	require.ErrorIs(t, err, failure.ErrValidation)
	kept, err := m.Record(ctx, "jane_doe", result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.Content.Answers["q6"], kept.Content.Answers["q6"])
	assert.Nil(t, kept.AmendedAt)

	amended, err := m.AmendAnswers(ctx, "jane_doe", result.Record.ID, map[string]string{"q7": "Went home on day 21."})
	require.NoError(t, err)
	assert.Equal(t, result.Record.ID, amended.ID)
	assert.Equal(t, "Went home on day 21.", amended.Content.Answers["q7"])
	assert.Equal(t, completeDemographics, amended.Content.Demographics)
	assert.NotNil(t, amended.AmendedAt)

	require.NoError(t, m.DeleteRecord(ctx, result.Record.ID))
	assert.Equal(t, []string{"jane_doe_1"}, indexer.deleted)

	next := openFilled(t, m, "full")
	again, err := m.Finalize(ctx, "jane_doe", "full", next.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane_doe_2", again.Record.ID, "deleted ordinals stay retired")
}

func TestSummary(t *testing.T) {
	now := time.Now()
	m, st := newTestManager(t, WithClock(func() time.Time { return now.Add(5 * time.Minute) }))
	ctx := context.Background()
	draft := openFilled(t, m, "full")
	require.NoError(t, st.SetDraftAudioFlag(ctx, draft.ID, "q6", true))

	summary, err := m.Summary(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.Equal(t, draft.ID, summary.DraftID)
	assert.Equal(t, 1, summary.Answered)
	assert.Equal(t, 1, summary.Recorded)
	assert.Contains(t, summary.LastSaved, "minutes ago")

	_, err = m.Summary(ctx, "jane_doe", "abbrev")
	require.ErrorIs(t, err, failure.ErrNotFound)
}

func TestSavedAgo(t *testing.T) {
	cases := map[time.Duration]string{
		10 * time.Second:  "just now",
		time.Minute:       "1 minute ago",
		7 * time.Minute:   "7 minutes ago",
		time.Hour:         "1 hour ago",
		5 * time.Hour:     "5 hours ago",
		49 * time.Hour:    "2 days ago",
		-30 * time.Second: "just now",
	}
	for d, want := range cases {
		assert.Equal(t, want, SavedAgo(d), d.String())
	}
}
