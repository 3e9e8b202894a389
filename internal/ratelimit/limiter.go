// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit implements the per-(key, category) token bucket
// admission control used at the HTTP edge.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
)

// CategoryConfig describes the refill rate and burst capacity for one
// admission category (e.g. "metadata", "download").
type CategoryConfig struct {
	RefillRate rate.Limit // tokens added per second
	Capacity   int        // maximum tokens a bucket can hold
}

// Config holds rate limiting configuration for all categories.
type Config struct {
	Categories map[string]CategoryConfig

	// CleanupInterval controls how often idle buckets are swept to bound
	// memory growth. A bucket is idle if its key has made no request
	// since the previous sweep.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults: a generous metadata category
// (cheap, synchronous) and a stricter download category (expensive,
// queued).
func DefaultConfig() Config {
	return Config{
		Categories: map[string]CategoryConfig{
			"metadata": {RefillRate: 5, Capacity: 10},
			"download": {RefillRate: 1, Capacity: 3},
			"admin":    {RefillRate: 1, Capacity: 5},
		},
		CleanupInterval: 10 * time.Minute,
	}
}

type bucketKey struct {
	key      string
	category string
}

// Limiter manages independent token buckets per (key, category).
//
// Admission never blocks: a denied request is told how long to wait via
// retry_after, and buckets are never mutated on denial.
type Limiter struct {
	config Config

	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
	seen    map[bucketKey]time.Time

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config.
func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		buckets:     make(map[bucketKey]*rate.Limiter),
		seen:        make(map[bucketKey]time.Time),
		lastCleanup: time.Now(),
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Allow checks whether a request identified by key in the given category
// may proceed. Buckets are created lazily on first use; callers must only
// invoke this with keys that have already passed authentication — unknown
// keys are never admitted here.
func (l *Limiter) Allow(key, category string) Decision {
	now := time.Now()
	limiter, ok := l.getBucket(key, category, now)
	if !ok {
		// Unconfigured category: fail closed.
		metrics.RateLimitRejectedTotal.WithLabelValues(category).Inc()
		return Decision{Allowed: false, RetryAfter: time.Second}
	}

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		metrics.RateLimitRejectedTotal.WithLabelValues(category).Inc()
		return Decision{Allowed: false, RetryAfter: time.Second}
	}

	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		l.maybeCleanup(now)
		return Decision{Allowed: true}
	}

	// Deny without mutating bucket state: cancel the reservation so the
	// token we provisionally reserved is returned to the bucket.
	reservation.CancelAt(now)
	metrics.RateLimitRejectedTotal.WithLabelValues(category).Inc()
	return Decision{Allowed: false, RetryAfter: delay}
}

func (l *Limiter) getBucket(key, category string, now time.Time) (*rate.Limiter, bool) {
	cfg, ok := l.config.Categories[category]
	if !ok {
		return nil, false
	}

	bk := bucketKey{key: key, category: category}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen[bk] = now

	limiter, exists := l.buckets[bk]
	if !exists {
		limiter = rate.NewLimiter(cfg.RefillRate, cfg.Capacity)
		l.buckets[bk] = limiter
	}
	return limiter, true
}

// maybeCleanup evicts buckets untouched since the last sweep, bounding
// memory use under a large or rotating set of keys.
func (l *Limiter) maybeCleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) < l.config.CleanupInterval {
		return
	}

	cutoff := now.Add(-l.config.CleanupInterval)
	for bk, lastSeen := range l.seen {
		if lastSeen.Before(cutoff) {
			delete(l.buckets, bk)
			delete(l.seen, bk)
		}
	}
	l.lastCleanup = now
}

// GetClientIP extracts the client IP from the request: the first
// X-Forwarded-For entry, else X-Real-IP, else the RemoteAddr host. The
// forwarding headers are taken as sent; no check is made that they come
// from a trusted proxy.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx > 0 {
			xff = xff[:idx]
		}
		xff = strings.TrimSpace(xff)
		if xff != "" {
			return xff
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
