package media

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/keys"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/logging"
	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	sizes   []string
	text    string
	failFor int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, contentType, modelSize string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, modelSize)
	if f.calls <= f.failFor {
		return "", errors.New("stt unavailable")
	}
	return f.text + " " + string(audio), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "intake.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newDraftOwner(t *testing.T, st *store.Store) (string, store.Draft) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.CreateContributor(ctx, store.Contributor{Key: "jane_doe", DisplayName: "Jane Doe", PINHash: "x"}); err != nil {
		t.Fatalf("create contributor: %v", err)
	}
	draft, _, err := st.GetOrCreateDraft(ctx, "jane_doe", "full")
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return keys.DraftOwner(draft.ID), draft
}

func TestVersionsAreSequentialAndEditsKeepOriginals(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	stt := &fakeTranscriber{text: "said"}
	svc := NewService(st, st, WithTranscriber(stt), WithLogger(logging.NewNop()))

	const k = 4
	for i := 1; i <= k; i++ {
		v, err := svc.AddVersion(ctx, owner, "q1", []byte{byte('a' + i)}, "audio/webm")
		if err != nil {
			t.Fatalf("AddVersion %d failed: %v", i, err)
		}
		if v.Version != i {
			t.Fatalf("expected version %d, got %d", i, v.Version)
		}
	}

	history, err := svc.History(ctx, owner, "q1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != k {
		t.Fatalf("expected %d versions, got %d", k, len(history))
	}
	originals := make([]string, k)
	for i, v := range history {
		if v.Version != i+1 || v.OriginalTranscript == nil || v.TranscriptStatus != store.TranscriptReady {
			t.Fatalf("unexpected version %+v", v)
		}
		originals[i] = *v.OriginalTranscript
	}

	if _, err := svc.EditTranscript(ctx, owner, "q1", 2, "corrected"); err != nil {
		t.Fatalf("EditTranscript failed: %v", err)
	}
	history, err = svc.History(ctx, owner, "q1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for i, v := range history {
		if *v.OriginalTranscript != originals[i] {
			t.Fatalf("original transcript of version %d changed", v.Version)
		}
	}
	if history[1].Transcript() != "corrected" {
		t.Fatalf("expected edited transcript, got %q", history[1].Transcript())
	}

	current, err := svc.Current(ctx, owner, "q1")
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if current.Version != k {
		t.Fatalf("expected current version %d, got %d", k, current.Version)
	}
}

func TestCurrentWithoutVersions(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, st, WithLogger(logging.NewNop()))
	if _, err := svc.Current(context.Background(), "record:none_1", "q1"); !errors.Is(err, failure.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddVersionFlagsDraft(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, draft := newDraftOwner(t, st)
	svc := NewService(st, st, WithLogger(logging.NewNop()))

	if _, err := svc.AddVersion(ctx, owner, "q7", []byte("x"), "audio/webm"); err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	reloaded, err := st.GetDraftByID(ctx, draft.ID)
	if err != nil {
		t.Fatalf("GetDraftByID failed: %v", err)
	}
	if !reloaded.AudioFlags["q7"] {
		t.Fatalf("expected audio flag for q7, got %v", reloaded.AudioFlags)
	}
}

func TestAddVersionValidation(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, st, WithLogger(logging.NewNop()))
	ctx := context.Background()

	if _, err := svc.AddVersion(ctx, "draft:x", "q1", nil, "audio/webm"); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error for empty audio, got %v", err)
	}
	if _, err := svc.AddVersion(ctx, "draft:x", " ", []byte("x"), "audio/webm"); !errors.Is(err, failure.ErrValidation) {
		t.Fatalf("expected validation error for blank question, got %v", err)
	}
}

func TestTranscriptionFailureIsAdvisoryAndRecoverable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	stt := &fakeTranscriber{text: "said", failFor: 1}
	svc := NewService(st, st, WithTranscriber(stt), WithLogger(logging.NewNop()))

	v, err := svc.AddVersion(ctx, owner, "q1", []byte("audio"), "audio/webm")
	if err != nil {
		t.Fatalf("AddVersion must succeed when transcription fails: %v", err)
	}
	failed, err := st.GetAudioVersion(ctx, owner, "q1", v.Version)
	if err != nil {
		t.Fatalf("GetAudioVersion failed: %v", err)
	}
	if failed.TranscriptStatus != store.TranscriptFailed || failed.TranscriptError == "" {
		t.Fatalf("expected failed transcript, got %+v", failed)
	}

	recovered, err := svc.RecoverTranscripts(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("RecoverTranscripts failed: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected one recovered transcript, got %d", recovered)
	}
	fixed, err := svc.Current(ctx, owner, "q1")
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if fixed.OriginalTranscript == nil || *fixed.OriginalTranscript != "said audio" {
		t.Fatalf("unexpected transcript %+v", fixed)
	}
}

func TestTranscribeIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	stt := &fakeTranscriber{text: "first"}
	svc := NewService(st, st, WithTranscriber(stt), WithLogger(logging.NewNop()))

	v, err := svc.AddVersion(ctx, owner, "q1", []byte("a"), "audio/webm")
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	stt.text = "second"
	again, err := svc.Transcribe(ctx, owner, "q1", v.Version)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if *again.OriginalTranscript != "first a" {
		t.Fatalf("original transcript was rewritten: %q", *again.OriginalTranscript)
	}
	if stt.calls != 1 {
		t.Fatalf("expected a single STT call, got %d", stt.calls)
	}
}

func TestModelSizeComesFromSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	stt := &fakeTranscriber{text: "x"}
	svc := NewService(st, st, WithTranscriber(stt), WithDefaultModelSize("tiny"), WithLogger(logging.NewNop()))

	if _, err := svc.AddVersion(ctx, owner, "q1", []byte("a"), "audio/webm"); err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	if err := st.SetSetting(ctx, store.SettingTranscriptionModelSize, "medium"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if _, err := svc.AddVersion(ctx, owner, "q2", []byte("b"), "audio/webm"); err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	if len(stt.sizes) != 2 || stt.sizes[0] != "tiny" || stt.sizes[1] != "medium" {
		t.Fatalf("unexpected model sizes %v", stt.sizes)
	}
}

func TestIdenticalAudioSharesBlob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	svc := NewService(st, st, WithLogger(logging.NewNop()))

	first, err := svc.AddVersion(ctx, owner, "q1", []byte("same"), "audio/webm")
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	second, err := svc.AddVersion(ctx, owner, "q1", []byte("same"), "audio/webm")
	if err != nil {
		t.Fatalf("AddVersion failed: %v", err)
	}
	if first.BlobKey != second.BlobKey || second.Version != 2 {
		t.Fatalf("expected shared blob and new version, got %+v %+v", first, second)
	}
	data, contentType, err := svc.Audio(ctx, owner, "q1", 2)
	if err != nil {
		t.Fatalf("Audio failed: %v", err)
	}
	if string(data) != "same" || contentType != "audio/webm" {
		t.Fatalf("unexpected audio %q %q", data, contentType)
	}
}

func TestLatestPicksHighestVersionPerQuestion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	owner, _ := newDraftOwner(t, st)
	svc := NewService(st, st, WithLogger(logging.NewNop()))

	for _, q := range []string{"q1", "q1", "q2"} {
		if _, err := svc.AddVersion(ctx, owner, q, []byte(q), "audio/webm"); err != nil {
			t.Fatalf("AddVersion failed: %v", err)
		}
	}
	latest, err := svc.Latest(ctx, owner)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest["q1"].Version != 2 || latest["q2"].Version != 1 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}
