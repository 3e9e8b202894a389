// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testConfig() Config {
	return Config{
		Categories: map[string]CategoryConfig{
			"metadata": {RefillRate: 100, Capacity: 20},
			"download": {RefillRate: 5, Capacity: 10},
		},
		CleanupInterval: time.Minute,
	}
}

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := New(testConfig())

	allowed := 0
	for i := 0; i < 25; i++ {
		if l.Allow("key-a", "metadata").Allowed {
			allowed++
		}
	}

	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 requests to pass with burst=20, got %d", allowed)
	}
}

func TestLimiterDeniesReturnsRetryAfter(t *testing.T) {
	l := New(testConfig())

	for i := 0; i < 10; i++ {
		l.Allow("key-b", "download")
	}

	d := l.Allow("key-b", "download")
	if d.Allowed {
		t.Fatal("expected denial after burst exhausted")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected positive retry_after, got %v", d.RetryAfter)
	}
}

func TestLimiterBucketsAreIndependentByKey(t *testing.T) {
	l := New(testConfig())

	for i := 0; i < 10; i++ {
		l.Allow("key-c", "download")
	}
	if l.Allow("key-c", "download").Allowed {
		t.Fatal("key-c bucket should be exhausted")
	}

	if !l.Allow("key-d", "download").Allowed {
		t.Fatal("key-d has an independent bucket and should be allowed")
	}
}

func TestLimiterBucketsAreIndependentByCategory(t *testing.T) {
	l := New(testConfig())

	for i := 0; i < 10; i++ {
		l.Allow("key-e", "download")
	}
	if l.Allow("key-e", "download").Allowed {
		t.Fatal("download bucket should be exhausted")
	}
	if !l.Allow("key-e", "metadata").Allowed {
		t.Fatal("metadata bucket is independent and should be allowed")
	}
}

func TestLimiterUnknownCategoryFailsClosed(t *testing.T) {
	l := New(testConfig())
	d := l.Allow("key-f", "unknown-category")
	if d.Allowed {
		t.Fatal("unconfigured category must fail closed")
	}
}

func TestLimiterDenialDoesNotMutateBucket(t *testing.T) {
	l := New(Config{
		Categories: map[string]CategoryConfig{
			"download": {RefillRate: rate.Limit(0.001), Capacity: 1},
		},
		CleanupInterval: time.Minute,
	})

	if !l.Allow("key-g", "download").Allowed {
		t.Fatal("first request should consume the sole token")
	}

	first := l.Allow("key-g", "download")
	second := l.Allow("key-g", "download")
	if first.Allowed || second.Allowed {
		t.Fatal("expected consecutive denials")
	}
	if second.RetryAfter < first.RetryAfter {
		t.Error("retry_after should not shrink when denials don't consume tokens")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 192.168.1.1, 10.0.0.1"},
			remoteAddr: "127.0.0.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.2",
		},
		{
			name:       "Fallback to RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100:54321",
			want:       "192.168.1.100",
		},
		{
			name:       "X-Forwarded-For with spaces",
			headers:    map[string]string{"X-Forwarded-For": "  203.0.113.5  "},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remoteAddr

			got := GetClientIP(req)
			if got != tt.want {
				t.Errorf("GetClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimiterCleanupEvictsIdleBuckets(t *testing.T) {
	l := New(Config{
		Categories: map[string]CategoryConfig{
			"download": {RefillRate: 10, Capacity: 20},
		},
		CleanupInterval: 50 * time.Millisecond,
	})

	for i := 0; i < 5; i++ {
		l.Allow(string(rune('a'+i)), "download")
	}

	l.mu.Lock()
	countBefore := len(l.buckets)
	l.mu.Unlock()
	if countBefore != 5 {
		t.Fatalf("expected 5 buckets, got %d", countBefore)
	}

	time.Sleep(75 * time.Millisecond)
	l.Allow("fresh-key", "download")

	l.mu.Lock()
	countAfter := len(l.buckets)
	l.mu.Unlock()
	if countAfter != 1 {
		t.Errorf("expected 1 bucket after cleanup sweep, got %d", countAfter)
	}
}

func BenchmarkLimiterAllow(b *testing.B) {
	l := New(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Allow("192.168.1.1", "metadata")
	}
}

func BenchmarkGetClientIP(b *testing.B) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
	req.RemoteAddr = "192.168.1.100:54321"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GetClientIP(req)
	}
}
