// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cookie implements the per-provider credential jar lifecycle
// (C4): load, TTL-cached validation, hot-reload, and age reporting.
package cookie

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
)

// expectedHeader is the first non-blank line of a well-known tab-separated
// credential jar (the Netscape cookie file format).
const expectedHeader = "# Netscape HTTP Cookie File"

const (
	validateCacheTTL = time.Hour
	staleWarningAge  = 7 * 24 * time.Hour
)

// Result is the outcome of a validation probe.
type Result int

const (
	Unchecked Result = iota
	Valid
	Invalid
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unchecked"
	}
}

// Prober performs a lightweight liveness probe through the extractor for
// one provider, returning nil if the credential at path authenticates
// successfully against a known stable video.
type Prober interface {
	Probe(ctx context.Context, provider, path string) error
}

// record is the mutable state for one provider's credential.
type record struct {
	mu          sync.Mutex
	path        string
	lastMtime   time.Time
	lastValidAt time.Time
	result      Result
	cacheUntil  time.Time
}

// Store owns every provider's CookieRecord. Validation for a given
// provider is serialized by the record's own mutex so concurrent callers
// coalesce into one probe.
type Store struct {
	prober Prober

	mu      sync.RWMutex
	records map[string]*record
}

// New creates an empty credential store.
func New(prober Prober) *Store {
	return &Store{prober: prober, records: make(map[string]*record)}
}

// Load reads the credential file for provider, verifies its header, and
// records it as UNCHECKED.
func (s *Store) Load(provider, path string) error {
	mtime, err := verifyHeaderAndStat(path)
	if err != nil {
		return fmt.Errorf("loading cookie for %s: %w", provider, err)
	}

	s.mu.Lock()
	s.records[provider] = &record{path: path, lastMtime: mtime, result: Unchecked}
	s.mu.Unlock()

	log.WithComponent("cookie").Info().Str("provider", provider).Msg("credential loaded")
	return nil
}

func verifyHeaderAndStat(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}

	f, err := os.Open(path) // #nosec G304 -- operator-configured credential path
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, expectedHeader) {
			return time.Time{}, fmt.Errorf("credential file missing expected header")
		}
		break
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, err
	}

	return info.ModTime(), nil
}

func (s *Store) get(provider string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[provider]
	return r, ok
}

// Validate returns the cached result if the cache has not expired and the
// file's mtime is unchanged; otherwise it invokes the prober and caches the
// refreshed result for one hour.
func (s *Store) Validate(ctx context.Context, provider string) (Result, error) {
	r, ok := s.get(provider)
	if !ok {
		return Invalid, fmt.Errorf("no credential loaded for provider %s", provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	currentMtime, statErr := fileModTime(r.path)
	mtimeChanged := statErr == nil && currentMtime.After(r.lastMtime)
	if mtimeChanged {
		r.result = Unchecked
		r.cacheUntil = time.Time{}
		r.lastMtime = currentMtime
	}

	if r.result != Unchecked && r.cacheUntil.After(now) {
		metrics.CookieValidationsTotal.WithLabelValues(provider, "cached").Inc()
		return r.result, nil
	}

	err := s.prober.Probe(ctx, provider, r.path)
	r.lastValidAt = now
	r.cacheUntil = now.Add(validateCacheTTL)
	if err != nil {
		r.result = Invalid
		metrics.CookieValidationsTotal.WithLabelValues(provider, "invalid").Inc()
		return Invalid, err
	}
	r.result = Valid
	metrics.CookieValidationsTotal.WithLabelValues(provider, "valid").Inc()
	return Valid, nil
}

func fileModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Reload atomically re-reads the credential at newPath and validates it.
// On failure, the previous record (value and mtime) is restored and an
// error is returned; the prior credential remains in effect.
func (s *Store) Reload(ctx context.Context, provider, newPath string) error {
	mtime, err := verifyHeaderAndStat(newPath)
	if err != nil {
		return fmt.Errorf("reloading cookie for %s: %w", provider, err)
	}

	s.mu.Lock()
	prev, existed := s.records[provider]
	candidate := &record{path: newPath, lastMtime: mtime, result: Unchecked}
	s.records[provider] = candidate
	s.mu.Unlock()

	if _, err := s.Validate(ctx, provider); err != nil {
		s.mu.Lock()
		if existed {
			s.records[provider] = prev
		} else {
			delete(s.records, provider)
		}
		s.mu.Unlock()
		return fmt.Errorf("reload validation failed for %s: %w", provider, err)
	}

	log.WithComponent("cookie").Info().Str("provider", provider).Msg("credential reloaded")
	return nil
}

// Age returns the seconds elapsed since the credential file's mtime.
func (s *Store) Age(provider string) (time.Duration, error) {
	r, ok := s.get(provider)
	if !ok {
		return 0, fmt.Errorf("no credential loaded for provider %s", provider)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastMtime), nil
}

// IsStale reports whether a provider's credential exceeds the 7-day
// freshness warning threshold.
func (s *Store) IsStale(provider string) bool {
	age, err := s.Age(provider)
	return err == nil && age > staleWarningAge
}

// Status reports presence and age for readiness checks, matching the
// signature expected by health.NewCookieStoreChecker.
func (s *Store) Status(provider string) (present bool, age time.Duration, err error) {
	r, ok := s.get(provider)
	if !ok {
		return false, 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return true, time.Since(r.lastMtime), nil
}

// Providers returns the set of providers with a loaded credential.
func (s *Store) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for p := range s.records {
		out = append(out, p)
	}
	return out
}
