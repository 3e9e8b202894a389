// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry implements the RetryExecutor (C8): error classification,
// bounded retries with a fixed backoff schedule, and per-attempt timeouts.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
	"github.com/fvadicamo/yt-dlp-api/internal/resilience"
)

// retriablePatterns are substrings matched (case-insensitively) against an
// error's text to decide whether a retry is worthwhile.
var retriablePatterns = []string{
	"http error 5",
	"server error",
	"connection reset",
	"timeout",
	"too many requests",
	"429",
}

// Classify reports whether err looks transient and worth retrying.
func Classify(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retriablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Policy controls attempt count and backoff.
type Policy struct {
	MaxAttempts     int
	BackoffSchedule []time.Duration
	// AttemptTimeout, when non-zero, bounds each individual attempt
	// (used for metadata operations per spec).
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the spec's default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BackoffSchedule: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	}
}

// Executor wraps calls to a fallible operation with classification-driven
// retries. A CircuitBreaker, when supplied, gates attempts and absorbs
// repeated technical failures across calls.
type Executor struct {
	policy  Policy
	breaker *resilience.CircuitBreaker
}

// New creates an Executor. breaker may be nil to disable circuit breaking.
func New(policy Policy, breaker *resilience.CircuitBreaker) *Executor {
	return &Executor{policy: policy, breaker: breaker}
}

// Do runs fn up to policy.MaxAttempts times. Non-retriable errors bypass
// all remaining attempts. name identifies the operation in logs/metrics.
// onAttempt, when given, is called once per attempt that actually runs
// (not for attempts rejected by an open circuit breaker) so a caller can
// reflect the PROCESSING<->RETRYING excursion into its own state.
func Do(ctx context.Context, e *Executor, name string, fn func(ctx context.Context) error, onAttempt ...func(attempt int)) error {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if e.breaker != nil && !e.breaker.AllowRequest() {
			return resilience.ErrCircuitOpen
		}

		for _, hook := range onAttempt {
			hook(attempt)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		}

		if e.breaker != nil {
			e.breaker.RecordAttempt()
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			metrics.RetryAttemptsTotal.WithLabelValues(name, "success").Inc()
			return nil
		}

		lastErr = err
		timedOut := attemptCtx.Err() != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		retriable := Classify(err) || (timedOut && attempt < e.policy.MaxAttempts)
		if e.breaker != nil {
			e.breaker.RecordTechnicalFailure()
		}

		if !retriable {
			metrics.RetryAttemptsTotal.WithLabelValues(name, "non_retriable").Inc()
			return err
		}

		metrics.RetryAttemptsTotal.WithLabelValues(name, "retriable").Inc()
		log.WithComponent("retry").Warn().
			Str("operation", name).
			Int("attempt", attempt).
			Err(err).
			Msg("retriable failure, backing off")

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay := backoffFor(e.policy.BackoffSchedule, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

func backoffFor(schedule []time.Duration, attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		if len(schedule) == 0 {
			return 0
		}
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
