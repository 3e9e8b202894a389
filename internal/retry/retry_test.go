// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyRetriablePatterns(t *testing.T) {
	cases := []struct {
		err       error
		retriable bool
	}{
		{errors.New("HTTP Error 503: Service Unavailable"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("read tcp: i/o timeout"), true},
		{errors.New("Too Many Requests"), true},
		{errors.New("video is private"), false},
		{errors.New("invalid format requested"), false},
		{errors.New("disk full"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.retriable {
			t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.retriable)
		}
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	e := New(Policy{MaxAttempts: 3, BackoffSchedule: []time.Duration{time.Millisecond}}, nil)

	err := Do(context.Background(), e, "metadata", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesOnRetriableError(t *testing.T) {
	calls := 0
	e := New(Policy{MaxAttempts: 3, BackoffSchedule: []time.Duration{time.Millisecond, time.Millisecond}}, nil)

	err := Do(context.Background(), e, "metadata", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsImmediatelyOnNonRetriableError(t *testing.T) {
	calls := 0
	e := New(Policy{MaxAttempts: 3, BackoffSchedule: []time.Duration{time.Millisecond}}, nil)

	err := Do(context.Background(), e, "metadata", func(ctx context.Context) error {
		calls++
		return errors.New("video is private")
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("expected non-retriable error to bypass remaining attempts, got %d calls", calls)
	}
}

func TestDoExhaustsMaxAttemptsAndSurfacesLastError(t *testing.T) {
	calls := 0
	e := New(Policy{MaxAttempts: 3, BackoffSchedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}}, nil)

	err := Do(context.Background(), e, "download", func(ctx context.Context) error {
		calls++
		return errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoCallsOnAttemptHookForEveryRunAttempt(t *testing.T) {
	calls := 0
	var seen []int
	e := New(Policy{MaxAttempts: 3, BackoffSchedule: []time.Duration{time.Millisecond, time.Millisecond}}, nil)

	err := Do(context.Background(), e, "download", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, func(attempt int) {
		seen = append(seen, attempt)
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected the hook to fire once per attempt, got %v", seen)
	}
	for i, attempt := range seen {
		if attempt != i+1 {
			t.Errorf("expected attempt %d at index %d, got %d", i+1, i, attempt)
		}
	}
}

func TestDoRespectsPerAttemptTimeout(t *testing.T) {
	e := New(Policy{
		MaxAttempts:     2,
		BackoffSchedule: []time.Duration{time.Millisecond},
		AttemptTimeout:  10 * time.Millisecond,
	}, nil)

	calls := 0
	err := Do(context.Background(), e, "metadata", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if calls != 2 {
		t.Errorf("expected timeout to be treated as retriable up to max attempts, got %d calls", calls)
	}
}
