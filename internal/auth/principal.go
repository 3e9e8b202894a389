// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import "github.com/fvadicamo/yt-dlp-api/internal/redact"

// Principal represents the authenticated identity of a caller. Only a
// hashed form of the API key is retained; the raw key itself is not
// stored in the Principal.
type Principal struct {
	// KeyHash is a truncated SHA-256 of the raw key, safe to log.
	KeyHash string
}

// NewPrincipal derives a Principal from a raw, already-authorized key.
func NewPrincipal(rawKey string) Principal {
	return Principal{KeyHash: redact.KeyHash(rawKey)}
}
