// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package template implements safe output-filename materialization from
// extractor metadata (C2): parsing, sanitization, collision resolution,
// and confinement to the output directory.
package template

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/fsutil"
)

// allowedVars is the whitelist of placeholders a template may reference.
var allowedVars = map[string]struct{}{
	"title": {}, "id": {}, "ext": {}, "upload_date": {}, "uploader": {},
	"resolution": {}, "format_id": {},
}

var placeholderPattern = regexp.MustCompile(`%\(([a-zA-Z_]+)\)s`)

const maxValueLength = 200 // Unicode code points
const maxCollisionAttempts = 1000

// segment is one parsed piece of a template: either a literal or a
// variable placeholder.
type segment struct {
	literal string
	varName string // empty for a literal segment
}

// Validated is a parsed, checked template: an ordered sequence of literal
// segments and whitelisted placeholders. Immutable once constructed.
type Validated struct {
	raw      string
	segments []segment
}

// Parse validates raw and, on success, returns its parsed form. It rejects
// ".." segments, absolute-path indicators, path separators embedded in a
// placeholder, and placeholders outside the whitelist.
func Parse(raw string) (*Validated, error) {
	if raw == "" {
		return nil, apierror.New(apierror.CodeInvalidFormat, "output_template must not be empty")
	}
	if filepath.IsAbs(raw) || strings.HasPrefix(raw, "/") {
		return nil, apierror.New(apierror.CodeInvalidFormat, "output_template must be a relative path")
	}
	for _, part := range strings.Split(filepath.ToSlash(raw), "/") {
		if part == ".." {
			return nil, apierror.New(apierror.CodeInvalidFormat, "output_template must not contain .. segments")
		}
	}

	var segments []segment
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(raw, -1) {
		start, end := loc[0], loc[1]
		nameStart, nameEnd := loc[2], loc[3]
		name := raw[nameStart:nameEnd]

		if _, ok := allowedVars[name]; !ok {
			return nil, apierror.New(apierror.CodeInvalidFormat, fmt.Sprintf("unknown template placeholder %q", name))
		}
		if strings.ContainsAny(name, "/\\") {
			return nil, apierror.New(apierror.CodeInvalidFormat, "placeholders must not contain path separators")
		}

		if start > last {
			segments = append(segments, segment{literal: raw[last:start]})
		}
		segments = append(segments, segment{varName: name})
		last = end
	}
	if last < len(raw) {
		segments = append(segments, segment{literal: raw[last:]})
	}

	return &Validated{raw: raw, segments: segments}, nil
}

// Metadata supplies the values substituted into a Validated template.
type Metadata struct {
	Title      string
	ID         string
	Ext        string
	UploadDate string
	Uploader   string
	Resolution string
	FormatID   string
}

func (m Metadata) value(name string) string {
	switch name {
	case "title":
		return m.Title
	case "id":
		return m.ID
	case "ext":
		return m.Ext
	case "upload_date":
		return m.UploadDate
	case "uploader":
		return m.Uploader
	case "resolution":
		return m.Resolution
	case "format_id":
		return m.FormatID
	default:
		return ""
	}
}

var unsafeChar = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)

// sanitize truncates v to maxValueLength Unicode code points and replaces
// every unsafe filesystem character with "_".
func sanitize(v string) string {
	if utf8.RuneCountInString(v) > maxValueLength {
		runes := []rune(v)
		v = string(runes[:maxValueLength])
	}
	return unsafeChar.ReplaceAllString(v, "_")
}

// render expands t against md without collision handling.
func (t *Validated) render(md Metadata) string {
	var b strings.Builder
	for _, s := range t.segments {
		if s.varName != "" {
			b.WriteString(sanitize(md.value(s.varName)))
		} else {
			b.WriteString(s.literal)
		}
	}
	return b.String()
}

// exists reports whether path exists, used by collision resolution.
type existsFunc func(relPath string) bool

// Render materializes t against md, resolving collisions by appending
// "_1", "_2", ... up to maxCollisionAttempts, and confines the result to
// outputDir. It fails if the template renders outside outputDir or if all
// collision slots are exhausted.
func (t *Validated) Render(md Metadata, outputDir string, exists existsFunc) (string, error) {
	base := t.render(md)

	rel := base
	for attempt := 0; attempt <= maxCollisionAttempts; attempt++ {
		if attempt > 0 {
			rel = withCollisionSuffix(base, attempt)
		}
		if exists == nil || !exists(rel) {
			confined, err := fsutil.ConfineRelPath(outputDir, rel)
			if err != nil {
				return "", apierror.Wrap(apierror.CodeInvalidFormat, "rendered output path escapes the output directory", err)
			}
			return confined, nil
		}
	}
	return "", apierror.New(apierror.CodeInvalidFormat, "output filename collisions exhausted")
}

func withCollisionSuffix(base string, n int) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

// Raw returns the original, unparsed template string.
func (t *Validated) Raw() string { return t.raw }
