// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
)

type cookieAdminRequest struct {
	Provider string `json:"provider"`
	Path     string `json:"path,omitempty"` // reload-cookie only
}

type cookieAdminResponse struct {
	Provider string `json:"provider"`
	Result   string `json:"result"`
}

func (s *Server) handleValidateCookie(w http.ResponseWriter, r *http.Request) {
	var body cookieAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" {
		writeError(w, r, apierror.New(apierror.CodeInvalidFormat, "provider is required"))
		return
	}

	result, err := s.deps.Cookies.Validate(r.Context(), body.Provider)
	if err != nil {
		writeError(w, r, apierror.Wrap(apierror.CodeComponentUnavailable, "credential validation failed", err))
		return
	}
	writeJSON(w, http.StatusOK, cookieAdminResponse{Provider: body.Provider, Result: result.String()})
}

func (s *Server) handleReloadCookie(w http.ResponseWriter, r *http.Request) {
	var body cookieAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider == "" || body.Path == "" {
		writeError(w, r, apierror.New(apierror.CodeInvalidFormat, "provider and path are required"))
		return
	}

	if err := s.deps.Cookies.Reload(r.Context(), body.Provider, body.Path); err != nil {
		writeError(w, r, apierror.Wrap(apierror.CodeInvalidFormat, "new credential failed validation; previous credential remains active", err))
		return
	}
	writeJSON(w, http.StatusOK, cookieAdminResponse{Provider: body.Provider, Result: "reloaded"})
}
