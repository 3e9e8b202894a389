// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"regexp"
	"testing"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

func pattern(provider, re string) []validator.URLPattern {
	return []validator.URLPattern{{Provider: provider, Regexp: regexp.MustCompile(re)}}
}

func TestDispatchReturnsFirstMatchingEnabledProvider(t *testing.T) {
	d := New([]Binding{
		{Name: "youtube", Enabled: true, URLPatterns: pattern("youtube", `youtube\.com`)},
		{Name: "vimeo", Enabled: true, URLPatterns: pattern("vimeo", `vimeo\.com`)},
	})

	b, err := d.Dispatch("https://vimeo.com/12345")
	if err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if b.Name != "vimeo" {
		t.Errorf("expected vimeo, got %s", b.Name)
	}
}

func TestDispatchFailsInvalidURLWhenNothingMatches(t *testing.T) {
	d := New([]Binding{
		{Name: "youtube", Enabled: true, URLPatterns: pattern("youtube", `youtube\.com`)},
	})

	_, err := d.Dispatch("https://unknown.example/video")
	apiErr, ok := apierror.As(err)
	if !ok {
		t.Fatalf("expected apierror, got %v", err)
	}
	if apiErr.Code != apierror.CodeInvalidURL {
		t.Errorf("expected INVALID_URL, got %s", apiErr.Code)
	}
}

func TestDispatchFailsComponentUnavailableWhenDisabled(t *testing.T) {
	d := New([]Binding{
		{Name: "youtube", Enabled: false, URLPatterns: pattern("youtube", `youtube\.com`)},
	})

	_, err := d.Dispatch("https://youtube.com/watch?v=abc")
	apiErr, ok := apierror.As(err)
	if !ok {
		t.Fatalf("expected apierror, got %v", err)
	}
	if apiErr.Code != apierror.CodeComponentUnavailable {
		t.Errorf("expected COMPONENT_UNAVAILABLE, got %s", apiErr.Code)
	}
}

func TestDisableTakesProviderOutOfRotation(t *testing.T) {
	d := New([]Binding{
		{Name: "youtube", Enabled: true, URLPatterns: pattern("youtube", `youtube\.com`)},
	})
	d.Disable("youtube")

	_, err := d.Dispatch("https://youtube.com/watch?v=abc")
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Code != apierror.CodeComponentUnavailable {
		t.Fatalf("expected COMPONENT_UNAVAILABLE after disable, got %v", err)
	}
}

func TestRegistrationOrderIsRespectedOnOverlap(t *testing.T) {
	overlapping := regexp.MustCompile(`example\.com`)
	d := New([]Binding{
		{Name: "first", Enabled: true, URLPatterns: []validator.URLPattern{{Provider: "first", Regexp: overlapping}}},
		{Name: "second", Enabled: true, URLPatterns: []validator.URLPattern{{Provider: "second", Regexp: overlapping}}},
	})

	b, err := d.Dispatch("https://example.com/v")
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "first" {
		t.Errorf("expected first-registered provider to win, got %s", b.Name)
	}
}
