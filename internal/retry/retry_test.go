package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestDoRetriesServerErrors(t *testing.T) {
	var slept []time.Duration
	p := Policy{Attempts: 4, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Sleeper: func(d time.Duration) { slept = append(slept, d) }}

	calls := 0
	err := p.Do(context.Background(), "call", func(ctx context.Context) error {
		calls++
		if calls < 4 {
			return &StatusError{StatusCode: http.StatusBadGateway}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %s, got %s", i, want[i], slept[i])
		}
	}
}

func TestDoStopsOnClientErrors(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: time.Millisecond, Sleeper: func(time.Duration) {}}
	calls := 0
	err := p.Do(context.Background(), "call", func(ctx context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusBadRequest, Body: "bad"}
	})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var slept []time.Duration
	p := Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Minute, Sleeper: func(d time.Duration) { slept = append(slept, d) }}
	calls := 0
	err := p.Do(context.Background(), "call", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 7 * time.Second}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Fatalf("expected retry-after delay, got %v", slept)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{Attempts: 3, Sleeper: func(time.Duration) {}}
	calls := 0
	err := p.Do(context.Background(), "call", func(ctx context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusServiceUnavailable}
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected failure after 3 calls, got %v after %d", err, calls)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Attempts: 3, Sleeper: func(time.Duration) {}}
	calls := 0
	err := p.Do(ctx, "call", func(ctx context.Context) error {
		calls++
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one call, got %v after %d", err, calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := ParseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected %s %v", d, ok)
	}
	if _, ok := ParseRetryAfter("soon"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}
