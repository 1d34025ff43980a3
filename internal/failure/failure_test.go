package failure

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	err := Wrap(ErrStorageUnavailable, "finalize", sql.ErrConnDone)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage kind, got %v", err)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("expected cause to stay reachable, got %v", err)
	}
	if got := err.Error(); got != "finalize: storage unavailable: sql: connection is already closed" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(ErrAuth, "op", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(ErrExpired, "resolve", "idle for %d minutes", 31))
	if KindOf(wrapped) != ErrExpired {
		t.Fatalf("expected expired kind, got %v", KindOf(wrapped))
	}
	if KindOf(fmt.Errorf("plain: %w", ErrNotFound)) != ErrNotFound {
		t.Fatal("expected bare sentinel to classify")
	}
	if KindOf(errors.New("other")) != nil {
		t.Fatal("expected unknown error to have no kind")
	}
}
