// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api implements C15, the thin HTTP edge that translates requests
// into calls against the validator/dispatcher/scheduler/cookie core.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fvadicamo/yt-dlp-api/internal/auth"
	"github.com/fvadicamo/yt-dlp-api/internal/config"
	"github.com/fvadicamo/yt-dlp-api/internal/cookie"
	"github.com/fvadicamo/yt-dlp-api/internal/extractor"
	"github.com/fvadicamo/yt-dlp-api/internal/health"
	"github.com/fvadicamo/yt-dlp-api/internal/jobstore"
	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/provider"
	"github.com/fvadicamo/yt-dlp-api/internal/ratelimit"
	"github.com/fvadicamo/yt-dlp-api/internal/retry"
	"github.com/fvadicamo/yt-dlp-api/internal/scheduler"
	"github.com/fvadicamo/yt-dlp-api/internal/template"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

// Deps bundles every process-scoped singleton the edge needs. Executors and
// DownloadExecutors may be nil or lack an entry for a provider, in which
// case DefaultExec or DefaultDownloadExec is used; DefaultTmpl is not read
// by the handlers.
type Deps struct {
	Config      config.AppConfig
	Dispatcher  *provider.Dispatcher
	Cookies     *cookie.Store
	Extractor   *extractor.Invoker
	Jobs        *jobstore.Store
	Scheduler   *scheduler.Scheduler
	Limiter     *ratelimit.Limiter
	Auth        *auth.Gate
	Health      *health.Manager
	Executors   map[string]*retry.Executor // keyed by provider name, metadata-tier (cfg.Timeouts.Metadata)
	DefaultExec *retry.Executor
	// DownloadExecutors and DefaultDownloadExec mirror Executors/DefaultExec
	// but are built with cfg.Timeouts.Download: download attempts run a
	// real media transfer and must not share metadata's short per-attempt
	// timeout.
	DownloadExecutors   map[string]*retry.Executor
	DefaultDownloadExec *retry.Executor
	DefaultTmpl         *template.Validated
}

// Server wires Deps into a chi router.
type Server struct {
	deps Deps
}

// New constructs a Server from deps.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the full route tree: public health/metrics endpoints,
// then an authenticated group for everything under /api/v1.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(log.Middleware())

	r.Get("/health", s.deps.Health.ServeHealth)
	r.Get("/liveness", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Health.Health(r.Context(), false))
	})
	r.Get("/readiness", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.Middleware)

		r.Get("/api/v1/info", s.handleInfo)
		r.Get("/api/v1/formats", s.handleFormats)
		r.Post("/api/v1/download", s.handleDownload)
		r.Get("/api/v1/jobs/{id}", s.handleGetJob)
		r.Post("/api/v1/admin/validate-cookie", s.handleValidateCookie)
		r.Post("/api/v1/admin/reload-cookie", s.handleReloadCookie)
	})

	return r
}

// executorFor returns the provider-specific retry executor, or the
// default when none was configured for name.
func (s *Server) executorFor(name string) *retry.Executor {
	if e, ok := s.deps.Executors[name]; ok && e != nil {
		return e
	}
	return s.deps.DefaultExec
}

// downloadExecutorFor returns the provider-specific download-tier retry
// executor, or the default when none was configured for name.
func (s *Server) downloadExecutorFor(name string) *retry.Executor {
	if e, ok := s.deps.DownloadExecutors[name]; ok && e != nil {
		return e
	}
	return s.deps.DefaultDownloadExec
}

// allPatterns returns every registered provider's URL patterns, used for
// C1's syntactic URL validation ahead of provider dispatch.
func (s *Server) allPatterns() []validator.URLPattern {
	var out []validator.URLPattern
	for _, b := range s.deps.Dispatcher.Bindings() {
		out = append(out, b.URLPatterns...)
	}
	return out
}

// principalKey returns the hashed key identity used for rate-limiting and
// logging; auth middleware has already run by the time handlers execute.
func principalKey(r *http.Request, gate *auth.Gate) string {
	p, _ := gate.Authenticate(r)
	return p.KeyHash
}
