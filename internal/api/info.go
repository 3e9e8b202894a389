// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/cookie"
	"github.com/fvadicamo/yt-dlp-api/internal/extractor"
	"github.com/fvadicamo/yt-dlp-api/internal/retry"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

// VideoInfo is the explicit, whitelisted record decoded from the
// extractor's loosely typed JSON document (per spec §9); unknown fields
// are ignored.
type VideoInfo struct {
	ID          string                     `json:"id,omitempty"`
	Title       string                     `json:"title,omitempty"`
	Duration    float64                    `json:"duration,omitempty"`
	Uploader    string                     `json:"uploader,omitempty"`
	UploadDate  string                     `json:"upload_date,omitempty"`
	ViewCount   int64                      `json:"view_count,omitempty"`
	Thumbnail   string                     `json:"thumbnail,omitempty"`
	Description string                     `json:"description,omitempty"`
	Formats     []Format                   `json:"formats,omitempty"`
	Subtitles   map[string][]SubtitleTrack `json:"subtitles,omitempty"`
}

// Format is one selectable stream, re-sorted by quality descending.
type Format struct {
	FormatID      string  `json:"format_id,omitempty"`
	Ext           string  `json:"ext,omitempty"`
	FormatNote    string  `json:"format_note,omitempty"`
	Vcodec        string  `json:"vcodec,omitempty"`
	Acodec        string  `json:"acodec,omitempty"`
	Height        int     `json:"height,omitempty"`
	BitrateKbps   float64 `json:"bitrate_kbps,omitempty"`
	FilesizeBytes int64   `json:"filesize_bytes,omitempty"`
}

// SubtitleTrack is one available subtitle rendition for a language.
type SubtitleTrack struct {
	Ext  string `json:"ext"`
	Auto bool   `json:"auto"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.serveMetadata(w, r, extractor.OpInfo)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	s.serveMetadata(w, r, extractor.OpFormats)
}

// serveMetadata runs the synchronous C1 -> C5 -> C9 -> C8 -> C7 path
// shared by /api/v1/info and /api/v1/formats.
func (s *Server) serveMetadata(w http.ResponseWriter, r *http.Request, op extractor.Operation) {
	url := r.URL.Query().Get("url")
	params := validator.DownloadParams{URL: url}

	if err := validator.Validate(params, s.allPatterns()); err != nil {
		writeError(w, r, err)
		return
	}

	key := principalKey(r, s.deps.Auth)
	decision := s.deps.Limiter.Allow(key, "metadata")
	if !decision.Allowed {
		writeError(w, r, apierror.New(apierror.CodeRateLimitExceeded, "metadata rate limit exceeded").WithRetryAfter(retryAfterSeconds(decision.RetryAfter)))
		return
	}

	binding, err := s.deps.Dispatcher.Dispatch(url)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if binding.CredentialPath != "" {
		if res, verr := s.deps.Cookies.Validate(r.Context(), binding.Name); verr != nil || res != cookie.Valid {
			writeError(w, r, apierror.Wrap(apierror.CodeMissingCookie, "provider credential is not valid", verr))
			return
		}
	}

	req := extractor.Request{Op: op, Params: params, CredentialPath: binding.CredentialPath}
	executor := s.executorFor(binding.Name)
	opName := "info"
	if op == extractor.OpFormats {
		opName = "formats"
	}

	var result extractor.Result
	err = retry.Do(r.Context(), executor, opName, func(ctx context.Context) error {
		res, ierr := s.deps.Extractor.Invoke(ctx, req)
		result = res
		return ierr
	})
	if err != nil {
		writeError(w, r, classifyExtractorError(err))
		return
	}

	info := parseVideoInfo(result.Info)
	if op == extractor.OpFormats {
		writeJSON(w, http.StatusOK, struct {
			Formats []Format `json:"formats"`
		}{Formats: info.Formats})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// classifyExtractorError maps an extractor failure to the error taxonomy
// (§7) by recognizing the stderr phrasing the extractor itself uses for
// each failure kind, falling back to DOWNLOAD_FAILED when nothing matches.
func classifyExtractorError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "account associated with this video has been terminated"),
		strings.Contains(msg, "does not exist"):
		return apierror.Wrap(apierror.CodeVideoUnavailable, "the requested video is unavailable", err)
	case strings.Contains(msg, "requested format is not available"),
		strings.Contains(msg, "no video formats found"):
		return apierror.Wrap(apierror.CodeFormatNotFound, "the requested format is not available", err)
	case strings.Contains(msg, "sign in to confirm"),
		strings.Contains(msg, "cookies are no longer valid"),
		strings.Contains(msg, "the provided cookies"):
		return apierror.Wrap(apierror.CodeCookieExpired, "the provider credential has expired", err)
	case strings.Contains(msg, "no space left on device"),
		strings.Contains(msg, "disk quota exceeded"):
		return apierror.Wrap(apierror.CodeStorageFull, "output storage is full", err)
	case strings.Contains(msg, "file is larger than max-filesize"),
		strings.Contains(msg, "exceeds the maximum allowed filesize"):
		return apierror.Wrap(apierror.CodeFileTooLarge, "the file exceeds the configured size limit", err)
	case strings.Contains(msg, "ffmpeg"),
		strings.Contains(msg, "postprocessing"),
		strings.Contains(msg, "error opening output files"):
		return apierror.Wrap(apierror.CodeTranscodingFailed, "media post-processing failed", err)
	default:
		return apierror.Wrap(apierror.CodeDownloadFailed, "extractor invocation failed", err)
	}
}

func parseVideoInfo(info extractor.Info) VideoInfo {
	v := VideoInfo{
		ID:          getString(info, "id"),
		Title:       getString(info, "title"),
		Duration:    getFloat(info, "duration"),
		Uploader:    getString(info, "uploader"),
		UploadDate:  getString(info, "upload_date"),
		ViewCount:   int64(getFloat(info, "view_count")),
		Thumbnail:   getString(info, "thumbnail"),
		Description: getString(info, "description"),
	}

	if raw, ok := info["formats"].([]any); ok {
		for _, f := range raw {
			m, ok := f.(map[string]any)
			if !ok {
				continue
			}
			v.Formats = append(v.Formats, Format{
				FormatID:      getString(m, "format_id"),
				Ext:           getString(m, "ext"),
				FormatNote:    getString(m, "format_note"),
				Vcodec:        getString(m, "vcodec"),
				Acodec:        getString(m, "acodec"),
				Height:        int(getFloat(m, "height")),
				BitrateKbps:   getFloat(m, "tbr"),
				FilesizeBytes: int64(getFloat(m, "filesize")),
			})
		}
		sortFormatsDescending(v.Formats)
	}

	if raw, ok := info["subtitles"].(map[string]any); ok {
		v.Subtitles = make(map[string][]SubtitleTrack, len(raw))
		for lang, tracksRaw := range raw {
			tracks, ok := tracksRaw.([]any)
			if !ok {
				continue
			}
			for _, t := range tracks {
				m, ok := t.(map[string]any)
				if !ok {
					continue
				}
				v.Subtitles[lang] = append(v.Subtitles[lang], SubtitleTrack{
					Ext:  getString(m, "ext"),
					Auto: getBool(m, "auto"),
				})
			}
		}
	}

	return v
}

// sortFormatsDescending orders formats by (is-video, height, bitrate)
// descending, per the spec's resolved quality-ordering open question.
func sortFormatsDescending(fs []Format) {
	rank := func(f Format) int {
		if f.Vcodec != "" && f.Vcodec != "none" {
			return 1
		}
		return 0
	}
	sort.SliceStable(fs, func(i, j int) bool {
		if rank(fs[i]) != rank(fs[j]) {
			return rank(fs[i]) > rank(fs[j])
		}
		if fs[i].Height != fs[j].Height {
			return fs[i].Height > fs[j].Height
		}
		return fs[i].BitrateKbps > fs[j].BitrateKbps
	})
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
