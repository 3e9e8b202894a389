// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command server runs the yt-dlp REST API: it wires the validator,
// provider dispatcher, cookie store, retry executor, scheduler and HTTP
// edge into one process and serves until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/fvadicamo/yt-dlp-api/internal/api"
	"github.com/fvadicamo/yt-dlp-api/internal/auth"
	"github.com/fvadicamo/yt-dlp-api/internal/config"
	"github.com/fvadicamo/yt-dlp-api/internal/cookie"
	"github.com/fvadicamo/yt-dlp-api/internal/extractor"
	"github.com/fvadicamo/yt-dlp-api/internal/health"
	"github.com/fvadicamo/yt-dlp-api/internal/jobstore"
	xglog "github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/provider"
	"github.com/fvadicamo/yt-dlp-api/internal/ratelimit"
	"github.com/fvadicamo/yt-dlp-api/internal/reaper"
	"github.com/fvadicamo/yt-dlp-api/internal/resilience"
	"github.com/fvadicamo/yt-dlp-api/internal/retry"
	"github.com/fvadicamo/yt-dlp-api/internal/scheduler"
	"github.com/fvadicamo/yt-dlp-api/internal/telemetry"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "ytdlp-api", Version: version})
	logger := xglog.WithComponent("main")

	cfg, err := config.NewLoader(*configPath, version).Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	xglog.Configure(xglog.Config{Level: cfg.Logging.Level, Service: cfg.Logging.Service, Version: version})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("startup checks failed")
	}

	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Monitoring.TracingEnabled,
		ServiceName:    cfg.Logging.Service,
		ServiceVersion: version,
		Endpoint:       cfg.Monitoring.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown error")
		}
	}()

	jobs := jobstore.New(24 * time.Hour)
	go jobs.Run(ctx.Done(), time.Hour)

	inv := extractor.New(cfg.Extractor.BinaryPath, cfg.Extractor.ScriptRuntime, cfg.Timeouts.ProcessGrace)
	cookies := cookie.New(extractorProber{inv: inv})
	bindings := make([]provider.Binding, 0, len(cfg.Providers.Bindings))
	for name, pc := range cfg.Providers.Bindings {
		patterns := make([]validator.URLPattern, 0, len(pc.URLPatterns))
		for _, raw := range pc.URLPatterns {
			re, perr := regexp.Compile(raw)
			if perr != nil {
				logger.Fatal().Err(perr).Str("provider", name).Str("pattern", raw).Msg("invalid url pattern")
			}
			patterns = append(patterns, validator.URLPattern{Provider: name, Regexp: re})
		}
		// In degraded mode a provider whose required credential is absent or
		// fails to load stays registered but disabled; outside degraded mode
		// PerformStartupChecks has already aborted startup for that case.
		enabled := true
		if pc.CookiePath != "" {
			if lerr := cookies.Load(name, pc.CookiePath); lerr != nil {
				if cfg.Security.DegradedMode {
					logger.Warn().Err(lerr).Str("provider", name).Msg("cookie load failed, continuing in degraded mode")
					enabled = !pc.CredentialReq
				} else {
					logger.Fatal().Err(lerr).Str("provider", name).Msg("cookie load failed")
				}
			}
		} else if pc.CredentialReq {
			enabled = false
		}
		bindings = append(bindings, provider.Binding{
			Name:           name,
			URLPatterns:    patterns,
			Enabled:        enabled,
			CredentialPath: pc.CookiePath,
			MaxAttempts:    pc.MaxAttempts,
		})
	}
	dispatcher := provider.New(bindings)

	executors := make(map[string]*retry.Executor, len(cfg.Providers.Bindings))
	for name, pc := range cfg.Providers.Bindings {
		maxAttempts := pc.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = cfg.Downloads.MaxAttempts
		}
		breaker := resilience.NewCircuitBreaker(name, 5, 10, time.Minute, 30*time.Second)
		executors[name] = retry.New(retry.Policy{
			MaxAttempts:     maxAttempts,
			BackoffSchedule: []time.Duration{cfg.Downloads.BackoffBase, 2 * cfg.Downloads.BackoffBase, cfg.Downloads.BackoffMax},
			AttemptTimeout:  cfg.Timeouts.Metadata,
		}, breaker)
	}
	defaultExec := retry.New(retry.Policy{
		MaxAttempts:     cfg.Downloads.MaxAttempts,
		BackoffSchedule: []time.Duration{cfg.Downloads.BackoffBase, 2 * cfg.Downloads.BackoffBase, cfg.Downloads.BackoffMax},
		AttemptTimeout:  cfg.Timeouts.Metadata,
	}, nil)

	// downloadExecutors mirror executors/defaultExec but bound each attempt
	// to cfg.Timeouts.Download: a download attempt transfers real media and
	// must not be killed on the metadata endpoint's much shorter timeout.
	downloadExecutors := make(map[string]*retry.Executor, len(cfg.Providers.Bindings))
	for name, pc := range cfg.Providers.Bindings {
		maxAttempts := pc.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = cfg.Downloads.MaxAttempts
		}
		breaker := resilience.NewCircuitBreaker(name+"-download", 5, 10, time.Minute, 30*time.Second)
		downloadExecutors[name] = retry.New(retry.Policy{
			MaxAttempts:     maxAttempts,
			BackoffSchedule: []time.Duration{cfg.Downloads.BackoffBase, 2 * cfg.Downloads.BackoffBase, cfg.Downloads.BackoffMax},
			AttemptTimeout:  cfg.Timeouts.Download,
		}, breaker)
	}
	defaultDownloadExec := retry.New(retry.Policy{
		MaxAttempts:     cfg.Downloads.MaxAttempts,
		BackoffSchedule: []time.Duration{cfg.Downloads.BackoffBase, 2 * cfg.Downloads.BackoffBase, cfg.Downloads.BackoffMax},
		AttemptTimeout:  cfg.Timeouts.Download,
	}, nil)

	limiter := ratelimit.New(toRateLimitConfig(cfg.RateLimit))
	gate := auth.NewGate(cfg.Security.AuthHeaderName, cfg.Security.APIKeys, cfg.Security.ExemptPaths)
	hm := health.NewManager(version)

	// Server and Scheduler are mutually dependent: the scheduler needs a
	// Handler at construction time, and the handler is a Server method
	// that needs the scheduler (for Pin/Unpin) in its Deps. Forward-
	// declare srv and capture it by reference in the closure passed to
	// scheduler.New, then assign srv once the scheduler exists.
	var srv *api.Server
	handler := func(ctx context.Context, job *jobstore.Job, report scheduler.ReportFunc) (string, int64, error) {
		return srv.JobHandler(ctx, job, report)
	}
	sched := scheduler.New(scheduler.Config{
		QueueCapacity: cfg.Downloads.QueueCapacity,
		WorkerCount:   cfg.Downloads.WorkerCount,
	}, jobs, handler)

	hm.RegisterChecker(health.NewSchedulerChecker(func() (queueDepth, queueCapacity, activeWorkers, totalWorkers int) {
		return sched.Len(), cfg.Downloads.QueueCapacity, cfg.Downloads.WorkerCount, cfg.Downloads.WorkerCount
	}))
	hm.RegisterChecker(health.NewDiskSpaceChecker(cfg.Storage.OutputDir, cfg.Storage.MinFreeBytes, reaper.FreeBytes))
	for name, pc := range cfg.Providers.Bindings {
		if pc.CookiePath == "" {
			continue
		}
		hm.RegisterChecker(health.NewCookieStoreChecker(name, 7*24*time.Hour, pc.CredentialReq, cookies.Status))
	}

	extractorBin := cfg.Extractor.BinaryPath
	if extractorBin == "" {
		extractorBin = "yt-dlp"
	}
	hm.RegisterChecker(health.NewBinaryChecker("extractor_binary", extractorBin, 0)) // presence + version, no floor

	runtimeMinMajor := 0
	if cfg.Extractor.MinRuntimeVer != "" {
		if v, verr := strconv.Atoi(cfg.Extractor.MinRuntimeVer); verr == nil {
			runtimeMinMajor = v
		} else {
			logger.Warn().Err(verr).Str("min_runtime_version", cfg.Extractor.MinRuntimeVer).Msg("ignoring invalid min_runtime_version")
		}
	}
	scriptRuntime := cfg.Extractor.ScriptRuntime
	if scriptRuntime == "" {
		scriptRuntime = "python3"
	}
	hm.RegisterChecker(health.NewBinaryChecker("script_runtime", scriptRuntime, runtimeMinMajor))

	mediaProcessor := cfg.Extractor.MediaProcessorPath
	if mediaProcessor == "" {
		mediaProcessor = "ffmpeg"
	}
	hm.RegisterChecker(health.NewBinaryChecker("media_processor", mediaProcessor, -1)) // presence only, per §4.13

	if cfg.Providers.Primary != "" {
		if primary, ok := cfg.Providers.Bindings[cfg.Providers.Primary]; ok {
			hm.RegisterChecker(health.NewConnectivityChecker(cfg.Providers.Primary, primary.ConnectivityProbeURL, 2*time.Second))
		} else {
			logger.Warn().Str("provider", cfg.Providers.Primary).Msg("providers.primary does not match any configured binding")
		}
	}

	srv = api.New(api.Deps{
		Config:              cfg,
		Dispatcher:          dispatcher,
		Cookies:             cookies,
		Extractor:           inv,
		Jobs:                jobs,
		Scheduler:           sched,
		Limiter:             limiter,
		Auth:                gate,
		Health:              hm,
		Executors:           executors,
		DefaultExec:         defaultExec,
		DownloadExecutors:   downloadExecutors,
		DefaultDownloadExec: defaultDownloadExec,
	})

	reap := reaper.New(reaper.Config{
		OutputDir:        cfg.Storage.OutputDir,
		CleanupThreshold: 90,
		CleanupAge:       cfg.Storage.CleanupAge,
		Interval:         cfg.Storage.CleanupInterval,
	}, sched)
	go reap.Run(ctx)

	sched.Start(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ProcessGrace+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	sched.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func toRateLimitConfig(cfg config.RateLimitingConfig) ratelimit.Config {
	categories := make(map[string]ratelimit.CategoryConfig, len(cfg.Categories))
	for name, c := range cfg.Categories {
		categories[name] = ratelimit.CategoryConfig{
			RefillRate: rateLimitPerSecond(c.RequestsPerMinute),
			Capacity:   c.BurstCapacity,
		}
	}
	return ratelimit.Config{Categories: categories, CleanupInterval: cfg.CleanupInterval}
}

func rateLimitPerSecond(perMinute float64) rate.Limit {
	return rate.Limit(perMinute / 60)
}

// extractorProber adapts *extractor.Invoker to cookie.Prober: it probes a
// provider's credential by running a metadata lookup through the
// extractor with that credential attached, surfacing the extractor's
// error verbatim.
type extractorProber struct {
	inv *extractor.Invoker
}

func (p extractorProber) Probe(ctx context.Context, providerName, path string) error {
	_, err := p.inv.Invoke(ctx, extractor.Request{
		Op:             extractor.OpInfo,
		Params:         validator.DownloadParams{URL: "https://" + providerName + "/"},
		CredentialPath: path,
	})
	return err
}
