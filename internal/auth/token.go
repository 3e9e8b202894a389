// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth implements the AuthGate (C12): header-only credential
// extraction, constant-time comparison, and hashed-identity logging.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
)

// Gate enforces C12. It holds the configured header name, the set of
// accepted keys, and a fixed list of paths exempt from authentication.
type Gate struct {
	headerName string
	keys       map[string]struct{}
	exempt     map[string]struct{}
}

// NewGate builds a Gate. headerName is the single header read for the
// credential; exemptPaths are matched by exact request path.
func NewGate(headerName string, keys []string, exemptPaths []string) *Gate {
	keySet := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			keySet[k] = struct{}{}
		}
	}
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}
	return &Gate{headerName: headerName, keys: keySet, exempt: exempt}
}

// ExtractKey reads the credential from the configured header only. URL
// parameters, cookies, and any other transport are never consulted.
func (g *Gate) ExtractKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(g.headerName))
}

// authorize reports whether got matches any configured key, using a
// constant-time comparison against every candidate so the compare time
// does not leak which (if any) key was closest to a match.
func (g *Gate) authorize(got string) bool {
	if got == "" {
		return false
	}
	ok := false
	for k := range g.keys {
		if subtle.ConstantTimeCompare([]byte(got), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}

// IsExempt reports whether path bypasses authentication entirely.
func (g *Gate) IsExempt(path string) bool {
	_, ok := g.exempt[path]
	return ok
}

// Authenticate validates r against the gate. It returns the authenticated
// Principal and true on success; on failure it returns the zero Principal
// and false, having already logged the attempt (remote address only, no
// indication of which key was presented).
func (g *Gate) Authenticate(r *http.Request) (Principal, bool) {
	if g.IsExempt(r.URL.Path) {
		return Principal{}, true
	}

	key := g.ExtractKey(r)
	if !g.authorize(key) {
		log.WithComponent("auth").Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("authentication failed")
		return Principal{}, false
	}
	return NewPrincipal(key), true
}

// Middleware wraps next with C12 admission. On failure it writes 401 with
// no detail about which key was tried.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.Authenticate(r); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
