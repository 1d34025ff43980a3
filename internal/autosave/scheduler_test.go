package autosave

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/logging"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

var testPolicy = Policy{
	IdleTimeout:      30 * time.Minute,
	WarnAfter:        25 * time.Minute,
	AutosaveInterval: 2 * time.Minute,
}

func TestEvaluateThresholds(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	state := SessionState{LastActivityAt: start, LastAutosaveAt: start}

	cases := []struct {
		elapsed     time.Duration
		want        State
		autosaveDue bool
	}{
		{0, Continue, false},
		{time.Minute, Continue, false},
		{2 * time.Minute, Continue, true},
		{25*time.Minute - time.Second, Continue, true},
		{25 * time.Minute, Warn, true},
		{30*time.Minute - time.Second, Warn, true},
		{30 * time.Minute, Expire, false},
		{3 * time.Hour, Expire, false},
	}
	for _, tc := range cases {
		d := testPolicy.Evaluate(state, start.Add(tc.elapsed))
		assert.Equal(t, tc.want, d.State, "state at %s", tc.elapsed)
		assert.Equal(t, tc.autosaveDue, d.AutosaveDue, "autosave at %s", tc.elapsed)
	}
}

func TestEvaluateExpiresIn(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	d := testPolicy.Evaluate(SessionState{LastActivityAt: start, LastAutosaveAt: start}, start.Add(26*time.Minute))
	assert.Equal(t, Warn, d.State)
	assert.Equal(t, 4*time.Minute, d.ExpiresIn)
	assert.Equal(t, "warn", d.State.String())
}

type fixture struct {
	store     *store.Store
	scheduler *Scheduler
	now       time.Time
	draft     store.Draft
	tokenHash string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), tokenHash: "hash-1"}
	_, err = st.CreateContributor(ctx, store.Contributor{Key: "jane_doe", DisplayName: "Jane Doe", PINHash: "x"})
	require.NoError(t, err)
	f.draft, _, err = st.GetOrCreateDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
	require.NoError(t, st.CreateSession(ctx, store.Session{
		TokenHash:      f.tokenHash,
		ContributorKey: "jane_doe",
		IssuedAt:       f.now,
		ExpiresAt:      f.now.Add(12 * time.Hour),
		LastActivityAt: f.now,
		LastAutosaveAt: f.now,
	}))

	f.scheduler = NewScheduler(testPolicy, st, st,
		WithClock(func() time.Time { return f.now }),
		WithLogger(logging.NewNop()))
	return f
}

func (f *fixture) form(answer string) *FormState {
	return &FormState{
		DraftID: f.draft.ID,
		Content: store.Content{
			Demographics: store.Demographics{Age: "81"},
			Answers:      map[string]string{"q1": answer},
		},
	}
}

func TestWarningClearsAfterQualifyingInteraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(25 * time.Minute)
	res, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{})
	require.NoError(t, err)
	assert.Equal(t, Warn, res.Decision.State)

	res, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true})
	require.NoError(t, err)
	assert.Equal(t, Continue, res.Decision.State)

	f.now = f.now.Add(time.Minute)
	res, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{})
	require.NoError(t, err)
	assert.Equal(t, Continue, res.Decision.State)
}

func TestHeartbeatDoesNotResetIdleClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.now = f.now.Add(5 * time.Minute)
		_, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{})
		require.NoError(t, err)
	}
	f.now = f.now.Add(5 * time.Minute)
	_, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{})
	require.ErrorIs(t, err, failure.ErrExpired)
}

func TestAutosavePersistsWhenDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(time.Minute)
	res, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("early")})
	require.NoError(t, err)
	assert.False(t, res.Saved, "autosave is not due after one minute")

	f.now = f.now.Add(time.Minute)
	res, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("due")})
	require.NoError(t, err)
	assert.True(t, res.Saved)

	draft, err := f.store.GetDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.Equal(t, "due", draft.Content.Answers["q1"])

	sess, err := f.store.GetSession(ctx, f.tokenHash)
	require.NoError(t, err)
	assert.True(t, sess.LastAutosaveAt.Equal(f.now))

	f.now = f.now.Add(30 * time.Second)
	res, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("too soon")})
	require.NoError(t, err)
	assert.False(t, res.Saved)

	res, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{Form: f.form("manual"), ForceSave: true})
	require.NoError(t, err)
	assert.True(t, res.Saved)
}

func TestExpiryKeepsLastAutosavedDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.now = f.now.Add(2 * time.Minute)
	_, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("kept")})
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)
	res, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("lost")})
	require.ErrorIs(t, err, failure.ErrExpired)
	assert.Equal(t, Expire, res.Decision.State)

	draft, err := f.store.GetDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
	assert.Equal(t, "kept", draft.Content.Answers["q1"])

	sess, err := f.store.GetSession(ctx, f.tokenHash)
	require.NoError(t, err)
	assert.NotNil(t, sess.ExpiredAt)

	// A later interaction does not revive the session.
	f.now = f.now.Add(time.Second)
	_, err = f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true})
	require.ErrorIs(t, err, failure.ErrExpired)
}

func TestAutosaveAfterDraftRemovedDoesNotResurrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deleted, err := f.store.DeleteDraft(ctx, "jane_doe", "full")
	require.NoError(t, err)
	require.True(t, deleted)

	f.now = f.now.Add(3 * time.Minute)
	res, err := f.scheduler.Interact(ctx, f.tokenHash, Interaction{Qualifying: true, Form: f.form("late")})
	require.NoError(t, err)
	assert.True(t, res.DraftGone)
	assert.False(t, res.Saved)

	_, err = f.store.GetDraft(ctx, "jane_doe", "full")
	require.ErrorIs(t, err, failure.ErrNotFound)
}

func TestUnknownSessionIsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.Interact(context.Background(), "nope", Interaction{Qualifying: true})
	require.ErrorIs(t, err, failure.ErrInvalidToken)
}
