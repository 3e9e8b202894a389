// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapsEveryCodePerSpec(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidURL:           http.StatusBadRequest,
		CodeInvalidFormat:        http.StatusBadRequest,
		CodeAuthFailed:           http.StatusUnauthorized,
		CodeVideoUnavailable:     http.StatusNotFound,
		CodeJobNotFound:          http.StatusNotFound,
		CodeRateLimitExceeded:    http.StatusTooManyRequests,
		CodeDownloadFailed:       http.StatusInternalServerError,
		CodeTranscodingFailed:    http.StatusInternalServerError,
		CodeQueueFull:            http.StatusServiceUnavailable,
		CodeComponentUnavailable: http.StatusServiceUnavailable,
		CodeMissingCookie:        http.StatusServiceUnavailable,
		CodeStorageFull:          http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		assert.Equal(t, want, Status(code), "code %s", code)
	}
}

func TestStatusDefaultsTo500ForUnknownCode(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, Status(Code("NOT_A_REAL_CODE")))
}

func TestAsUnwrapsThroughWrappedErrors(t *testing.T) {
	base := New(CodeInvalidURL, "bad url")
	wrapped := fmt.Errorf("handler: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapPreservesCauseAndMessage(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(CodeDownloadFailed, "extractor invocation failed", cause)

	assert.Equal(t, CodeDownloadFailed, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "extractor invocation failed")
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestWithRetryAfterAndDetailsChain(t *testing.T) {
	err := New(CodeRateLimitExceeded, "too many requests").
		WithRetryAfter(5).
		WithDetails(map[string]any{"category": "download"}).
		WithSuggestion("slow down")

	assert.Equal(t, 5, err.RetryAfter)
	assert.Equal(t, "download", err.Details["category"])
	assert.Equal(t, "slow down", err.Suggestion)
}
