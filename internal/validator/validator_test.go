// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validator

import (
	"regexp"
	"testing"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
)

func testPatterns() []URLPattern {
	return []URLPattern{
		{Provider: "youtube", Regexp: regexp.MustCompile(`^https://(www\.)?youtube\.com/watch\?v=`)},
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ", testPatterns()); err != nil {
		t.Fatalf("expected valid URL, got %v", err)
	}

	err := ValidateURL("https://example.com/video", testPatterns())
	if err == nil {
		t.Fatal("expected INVALID_URL for unmatched provider")
	}
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Code != apierror.CodeInvalidURL {
		t.Fatalf("expected CodeInvalidURL, got %v", err)
	}
}

func TestValidateFormatID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"", true},
		{"137+140", true},
		{"best/worst", true},
		{"abc-123", true},
		{"<script>", false},
		{string(make([]byte, 65)), false},
	}
	for _, c := range cases {
		err := ValidateFormatID(c.id)
		if (err == nil) != c.valid {
			t.Errorf("ValidateFormatID(%q): valid=%v, err=%v", c.id, c.valid, err)
		}
	}
}

func TestValidateAudioFormat(t *testing.T) {
	for _, f := range []string{"mp3", "m4a", "wav", "opus", ""} {
		if err := ValidateAudioFormat(f); err != nil {
			t.Errorf("expected %q valid, got %v", f, err)
		}
	}
	if err := ValidateAudioFormat("flac"); err == nil {
		t.Error("expected flac to be rejected")
	}
}

func TestValidateAudioQuality(t *testing.T) {
	for _, q := range []string{"128", "192", "320", ""} {
		if err := ValidateAudioQuality(q); err != nil {
			t.Errorf("expected %q valid, got %v", q, err)
		}
	}
	if err := ValidateAudioQuality("256"); err == nil {
		t.Error("expected 256 to be rejected")
	}
}

func TestValidateSubtitleLang(t *testing.T) {
	for _, l := range []string{"en", "en-US", "zh-Hans", ""} {
		if err := ValidateSubtitleLang(l); err != nil {
			t.Errorf("expected %q valid, got %v", l, err)
		}
	}
	if err := ValidateSubtitleLang("../../etc"); err == nil {
		t.Error("expected path traversal attempt to be rejected")
	}
}

func TestValidate(t *testing.T) {
	p := DownloadParams{URL: "https://www.youtube.com/watch?v=abc12345678", FormatID: "137+140"}
	if err := Validate(p, testPatterns()); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
}
