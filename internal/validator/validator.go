// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package validator implements the pure, side-effect-free syntactic checks
// applied to every incoming request (C1).
package validator

import (
	"regexp"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
)

var (
	formatIDPattern = regexp.MustCompile(`^[A-Za-z0-9+\-/]{1,64}$`)
	subtitleLangPattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

	audioFormats = map[string]struct{}{
		"mp3": {}, "m4a": {}, "wav": {}, "opus": {},
	}
	audioQualities = map[string]struct{}{
		"128": {}, "192": {}, "320": {},
	}
)

// URLPattern is one provider's ordered URL pattern, compiled once at
// startup and reused across requests.
type URLPattern struct {
	Provider string
	Regexp   *regexp.Regexp
}

// MatchURL returns the name of the first provider whose pattern matches
// url, in the given (registration) order. It never mutates patterns and
// never performs I/O.
func MatchURL(url string, patterns []URLPattern) (string, bool) {
	for _, p := range patterns {
		if p.Regexp.MatchString(url) {
			return p.Provider, true
		}
	}
	return "", false
}

// ValidateURL validates url against the ordered provider pattern list.
func ValidateURL(url string, patterns []URLPattern) error {
	if url == "" {
		return apierror.New(apierror.CodeInvalidURL, "url is required")
	}
	if _, ok := MatchURL(url, patterns); !ok {
		return apierror.New(apierror.CodeInvalidURL, "url does not match any known provider")
	}
	return nil
}

// ValidateFormatID validates a format selector string.
func ValidateFormatID(formatID string) error {
	if formatID == "" {
		return nil // absent format ID means "best", handled by the caller
	}
	if !formatIDPattern.MatchString(formatID) {
		return apierror.New(apierror.CodeInvalidFormat, "format_id contains invalid characters or exceeds 64 characters")
	}
	return nil
}

// ValidateAudioFormat validates an audio extraction target format.
func ValidateAudioFormat(format string) error {
	if format == "" {
		return nil
	}
	if _, ok := audioFormats[format]; !ok {
		return apierror.New(apierror.CodeInvalidFormat, "audio_format must be one of mp3, m4a, wav, opus")
	}
	return nil
}

// ValidateAudioQuality validates an audio bitrate selector.
func ValidateAudioQuality(quality string) error {
	if quality == "" {
		return nil
	}
	if _, ok := audioQualities[quality]; !ok {
		return apierror.New(apierror.CodeInvalidFormat, "audio_quality must be one of 128, 192, 320")
	}
	return nil
}

// ValidateSubtitleLang validates a BCP-47-shaped language tag.
func ValidateSubtitleLang(lang string) error {
	if lang == "" {
		return nil
	}
	if !subtitleLangPattern.MatchString(lang) {
		return apierror.New(apierror.CodeInvalidFormat, "subtitle_lang is not a valid BCP-47-shaped tag")
	}
	return nil
}

// DownloadParams bundles every client-supplied field subject to validation
// for a download or metadata request.
type DownloadParams struct {
	URL           string
	FormatID      string
	AudioFormat   string
	AudioQuality  string
	SubtitleLang  string
}

// Validate runs every applicable check against p and the configured
// provider patterns, returning the first failure encountered.
func Validate(p DownloadParams, patterns []URLPattern) error {
	if err := ValidateURL(p.URL, patterns); err != nil {
		return err
	}
	if err := ValidateFormatID(p.FormatID); err != nil {
		return err
	}
	if err := ValidateAudioFormat(p.AudioFormat); err != nil {
		return err
	}
	if err := ValidateAudioQuality(p.AudioQuality); err != nil {
		return err
	}
	if err := ValidateSubtitleLang(p.SubtitleLang); err != nil {
		return err
	}
	return nil
}
