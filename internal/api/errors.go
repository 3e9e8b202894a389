// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/log"
)

// errorBody is the wire shape of every non-2xx response, per spec §6.
type errorBody struct {
	ErrorCode  string         `json:"error_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// writeError maps err to its taxonomy Code (falling back to an opaque 500)
// and writes the JSON error body. RATE_LIMIT_EXCEEDED additionally sets
// Retry-After in whole seconds.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.Wrap(apierror.CodeDownloadFailed, "internal error", err)
	}

	status := apierror.Status(apiErr.Code)
	if apiErr.Code == apierror.CodeRateLimitExceeded && apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfter))
	}

	body := errorBody{
		ErrorCode:  string(apiErr.Code),
		Message:    apiErr.Message,
		Details:    apiErr.Details,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  log.RequestIDFromContext(r.Context()),
		Suggestion: apiErr.Suggestion,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// retryAfterSeconds rounds d up to a whole number of seconds, never less
// than one, per the Retry-After header's contract.
func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
