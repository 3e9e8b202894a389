// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config defines the application configuration surface: a
// structured file with env-var overrides, per spec §6.
package config

import "time"

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// TimeoutsConfig controls per-operation budgets, per §5.
type TimeoutsConfig struct {
	Metadata     time.Duration `yaml:"metadata"`
	Download     time.Duration `yaml:"download"`
	AudioConvert time.Duration `yaml:"audio_convert"`
	ProcessGrace time.Duration `yaml:"process_grace"`
}

// StorageConfig controls the output directory and reaper (C6).
type StorageConfig struct {
	OutputDir       string        `yaml:"output_dir"`
	MinFreeBytes    uint64        `yaml:"min_free_bytes"`
	CleanupAge      time.Duration `yaml:"cleanup_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DownloadsConfig controls scheduling and retry (C8, C11).
type DownloadsConfig struct {
	WorkerCount     int           `yaml:"worker_count"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	DefaultPriority int           `yaml:"default_priority"`
}

// RateLimitCategory mirrors ratelimit.CategoryConfig in config terms.
type RateLimitCategory struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	BurstCapacity     int     `yaml:"burst_capacity"`
}

// RateLimitingConfig controls C5's per-(key,category) token buckets.
type RateLimitingConfig struct {
	Categories      map[string]RateLimitCategory `yaml:"categories"`
	CleanupInterval time.Duration                `yaml:"cleanup_interval"`
}

// TemplatesConfig controls C2's output path rendering.
type TemplatesConfig struct {
	Default string `yaml:"default"`
}

// ProviderConfig binds a video platform's URL patterns, credential jar, and
// retry policy (C9).
type ProviderConfig struct {
	Name           string   `yaml:"name"`
	URLPatterns    []string `yaml:"url_patterns"`
	CookiePath     string   `yaml:"cookie_path"`
	MaxAttempts    int      `yaml:"max_attempts"`
	CredentialReq  bool     `yaml:"credential_required"`
	ScriptRuntime  string   `yaml:"script_runtime"`
	ExtractorExtra []string `yaml:"extractor_extra_args"`
	// ConnectivityProbeURL is a cheap endpoint (e.g. a favicon or status
	// page) the readiness probe HEADs to confirm outbound reachability
	// through this provider. Only consulted for Providers.Primary.
	ConnectivityProbeURL string `yaml:"connectivity_probe_url"`
}

// ProvidersConfig is the set of configured provider bindings, keyed by name.
type ProvidersConfig struct {
	Bindings map[string]ProviderConfig `yaml:"bindings"`
	// Primary names the binding whose ConnectivityProbeURL backs the
	// readiness probe's external-connectivity check.
	Primary string `yaml:"primary"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// SecurityConfig controls AuthGate (C12).
type SecurityConfig struct {
	AuthHeaderName string   `yaml:"auth_header_name"`
	APIKeys        []string `yaml:"api_keys"`
	ExemptPaths    []string `yaml:"exempt_paths"`
	DegradedMode   bool     `yaml:"degraded_mode"`
	DebugMode      bool     `yaml:"debug_mode"`
}

// MonitoringConfig controls metrics/tracing emission.
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// ExtractorConfig locates the extractor binary, its scripting runtime, and
// the media-processing binary it shells out to for remuxing/transcoding.
type ExtractorConfig struct {
	BinaryPath    string `yaml:"binary_path"`
	ScriptRuntime string `yaml:"script_runtime"`
	// MinRuntimeVer gates ScriptRuntime's major version for readiness; empty
	// disables the gate (the default runtime, python3, has no such floor).
	MinRuntimeVer      string `yaml:"min_runtime_version"`
	MediaProcessorPath string `yaml:"media_processor_path"`
}

// AppConfig is the fully resolved configuration snapshot.
type AppConfig struct {
	Version     string              `yaml:"-"`
	Server      ServerConfig        `yaml:"server"`
	Timeouts    TimeoutsConfig      `yaml:"timeouts"`
	Storage     StorageConfig       `yaml:"storage"`
	Downloads   DownloadsConfig     `yaml:"downloads"`
	RateLimit   RateLimitingConfig  `yaml:"rate_limiting"`
	Templates   TemplatesConfig     `yaml:"templates"`
	Providers   ProvidersConfig     `yaml:"providers"`
	Logging     LoggingConfig       `yaml:"logging"`
	Security    SecurityConfig      `yaml:"security"`
	Monitoring  MonitoringConfig    `yaml:"monitoring"`
	Extractor   ExtractorConfig     `yaml:"extractor"`
}

// DefaultConfig returns the built-in defaults applied before file and
// environment overlays.
func DefaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Metadata:     10 * time.Second,
			Download:     300 * time.Second,
			AudioConvert: 60 * time.Second,
			ProcessGrace: 5 * time.Second,
		},
		Storage: StorageConfig{
			OutputDir:       "/data/downloads",
			MinFreeBytes:    1 << 30, // 1 GiB
			CleanupAge:      24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Downloads: DownloadsConfig{
			WorkerCount:     5,
			QueueCapacity:   100,
			MaxAttempts:     3,
			BackoffBase:     2 * time.Second,
			BackoffMax:      60 * time.Second,
			DefaultPriority: 5,
		},
		RateLimit: RateLimitingConfig{
			Categories: map[string]RateLimitCategory{
				"metadata": {RequestsPerMinute: 6000, BurstCapacity: 20},
				"download": {RequestsPerMinute: 60, BurstCapacity: 3},
				"admin":    {RequestsPerMinute: 60, BurstCapacity: 5},
			},
			CleanupInterval: 10 * time.Minute,
		},
		Templates: TemplatesConfig{
			Default: "%(title)s-%(id)s.%(ext)s",
		},
		Providers: ProvidersConfig{
			Bindings: map[string]ProviderConfig{},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Service: "ytdlp-api",
		},
		Security: SecurityConfig{
			AuthHeaderName: "X-API-Key",
			ExemptPaths:    []string{"/health", "/liveness", "/readiness", "/metrics"},
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
		},
		Extractor: ExtractorConfig{
			BinaryPath:         "yt-dlp",
			ScriptRuntime:      "python3",
			MediaProcessorPath: "ffmpeg",
		},
	}
}
