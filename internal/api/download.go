// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/cookie"
	"github.com/fvadicamo/yt-dlp-api/internal/extractor"
	"github.com/fvadicamo/yt-dlp-api/internal/fsutil"
	"github.com/fvadicamo/yt-dlp-api/internal/jobstore"
	"github.com/fvadicamo/yt-dlp-api/internal/retry"
	"github.com/fvadicamo/yt-dlp-api/internal/scheduler"
	"github.com/fvadicamo/yt-dlp-api/internal/template"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

// downloadRequest is the client-supplied body for POST /api/v1/download.
type downloadRequest struct {
	URL            string `json:"url"`
	FormatID       string `json:"format_id"`
	OutputTemplate string `json:"output_template"`
	AudioFormat    string `json:"audio_format"`
	AudioQuality   string `json:"audio_quality"`
	SubtitleLang   string `json:"subtitle_lang"`
}

type downloadAccepted struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var body downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierror.New(apierror.CodeInvalidFormat, "request body is not valid JSON"))
		return
	}

	params := validator.DownloadParams{
		URL:          body.URL,
		FormatID:     body.FormatID,
		AudioFormat:  body.AudioFormat,
		AudioQuality: body.AudioQuality,
		SubtitleLang: body.SubtitleLang,
	}
	if err := validator.Validate(params, s.allPatterns()); err != nil {
		writeError(w, r, err)
		return
	}

	tmplSrc := body.OutputTemplate
	if tmplSrc == "" {
		tmplSrc = s.deps.Config.Templates.Default
	}
	if _, err := template.Parse(tmplSrc); err != nil {
		writeError(w, r, err)
		return
	}

	key := principalKey(r, s.deps.Auth)
	decision := s.deps.Limiter.Allow(key, "download")
	if !decision.Allowed {
		writeError(w, r, apierror.New(apierror.CodeRateLimitExceeded, "download rate limit exceeded").WithRetryAfter(retryAfterSeconds(decision.RetryAfter)))
		return
	}

	// Fail fast on an unroutable or disabled provider before enqueuing;
	// validation errors must never produce a Job.
	if _, err := s.deps.Dispatcher.Dispatch(body.URL); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.deps.Scheduler.Enqueue(body.URL, jobstore.Params{
		FormatID:       body.FormatID,
		OutputTemplate: tmplSrc,
		AudioFormat:    body.AudioFormat,
		AudioQuality:   body.AudioQuality,
		SubtitleLang:   body.SubtitleLang,
	}, scheduler.PriorityDownload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, downloadAccepted{JobID: job.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Jobs.Get(id)
	if !ok {
		writeError(w, r, apierror.New(apierror.CodeJobNotFound, "no job with that id"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// JobHandler composes C9 -> C4 -> C8(C7) -> C2 into a scheduler.Handler: it
// resolves the provider, validates its credential, then runs exactly one
// extractor invocation that both downloads the file and materializes its
// own output-template placeholders (the same whitelist C2 validates
// structurally before launch); the produced path is derived from the
// extractor's own output per §4.7, then confined to the output directory.
func (s *Server) JobHandler(ctx context.Context, job *jobstore.Job, report scheduler.ReportFunc) (string, int64, error) {
	binding, err := s.deps.Dispatcher.Dispatch(job.URL)
	if err != nil {
		return "", 0, err
	}

	if binding.CredentialPath != "" {
		if res, verr := s.deps.Cookies.Validate(ctx, binding.Name); verr != nil || res != cookie.Valid {
			return "", 0, apierror.Wrap(apierror.CodeMissingCookie, "provider credential is not valid", verr)
		}
	}

	tmplSrc := job.Params.OutputTemplate
	if tmplSrc == "" {
		tmplSrc = s.deps.Config.Templates.Default
	}
	tmpl, err := template.Parse(tmplSrc)
	if err != nil {
		return "", 0, err
	}

	outputDir := s.deps.Config.Storage.OutputDir
	// The raw, structurally-validated template is handed to the extractor
	// verbatim: it substitutes its own placeholders (same whitelist, same
	// syntax) against metadata only it has at this point, so one process
	// does both metadata extraction and the download.
	outputArg := filepath.Join(outputDir, tmpl.Raw())

	params := validator.DownloadParams{
		URL:          job.URL,
		FormatID:     job.Params.FormatID,
		AudioFormat:  job.Params.AudioFormat,
		AudioQuality: job.Params.AudioQuality,
		SubtitleLang: job.Params.SubtitleLang,
	}
	downloadReq := extractor.Request{
		Op:             extractor.OpDownload,
		Params:         params,
		CredentialPath: binding.CredentialPath,
		OutputPath:     outputArg,
	}

	executor := s.downloadExecutorFor(binding.Name)
	onAttempt := func(attempt int) {
		state := jobstore.StateProcessing
		if attempt > 1 {
			state = jobstore.StateRetrying
		}
		report(state)
	}

	var downloadRes extractor.Result
	if err := retry.Do(ctx, executor, "download", func(ctx context.Context) error {
		res, ierr := s.deps.Extractor.Invoke(ctx, downloadReq)
		downloadRes = res
		return ierr
	}, onAttempt); err != nil {
		return "", 0, classifyExtractorError(err)
	}

	absPath, err := fsutil.ConfineAbsPath(outputDir, downloadRes.FilePath)
	if err != nil {
		return "", 0, apierror.Wrap(apierror.CodeInvalidFormat, "extractor wrote outside the output directory", err)
	}

	if relPath, relErr := filepath.Rel(outputDir, absPath); relErr == nil {
		s.deps.Scheduler.Pin(relPath)
		defer s.deps.Scheduler.Unpin(relPath)
	}

	size := int64(0)
	if info, statErr := os.Stat(absPath); statErr == nil {
		size = info.Size()
	}
	return absPath, size, nil
}
