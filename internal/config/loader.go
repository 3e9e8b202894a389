// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every uppercase, underscore-joined config path
// to form its environment variable override name, per spec §6.
const envPrefix = "YTDLP_"

// Loader resolves configuration with precedence: built-in defaults, then an
// optional YAML file, then environment variable overrides.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader for the given optional file path.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load resolves the full configuration snapshot.
func (l *Loader) Load() (AppConfig, error) {
	cfg := DefaultConfig()
	cfg.Version = l.version

	logger := log.WithComponent("config")

	if l.configPath != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, fmt.Errorf("loading config file %s: %w", l.configPath, err)
		}
		logger.Info().Str("path", l.configPath).Msg("loaded configuration file")
	} else {
		logger.Info().Msg("no configuration file provided; using built-in defaults")
	}

	l.applyEnvOverrides(&cfg)

	return cfg, nil
}

func (l *Loader) loadFile(cfg *AppConfig) error {
	data, err := os.ReadFile(l.configPath) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist: %w", err)
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides overlays environment variables on top of the resolved
// config. Only scalar leaves with a direct spec-named counterpart are
// overridden here; map-valued sections (providers, rate-limit categories)
// are configured exclusively via the YAML file.
func (l *Loader) applyEnvOverrides(cfg *AppConfig) {
	cfg.Server.ListenAddr = ParseString(envPrefix+"SERVER_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.ReadTimeout = ParseDuration(envPrefix+"SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = ParseDuration(envPrefix+"SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = ParseDuration(envPrefix+"SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout)

	cfg.Timeouts.Metadata = ParseDuration(envPrefix+"TIMEOUTS_METADATA", cfg.Timeouts.Metadata)
	cfg.Timeouts.Download = ParseDuration(envPrefix+"TIMEOUTS_DOWNLOAD", cfg.Timeouts.Download)
	cfg.Timeouts.AudioConvert = ParseDuration(envPrefix+"TIMEOUTS_AUDIO_CONVERT", cfg.Timeouts.AudioConvert)
	cfg.Timeouts.ProcessGrace = ParseDuration(envPrefix+"TIMEOUTS_PROCESS_GRACE", cfg.Timeouts.ProcessGrace)

	cfg.Storage.OutputDir = ParseString(envPrefix+"STORAGE_OUTPUT_DIR", cfg.Storage.OutputDir)
	cfg.Storage.MinFreeBytes = ParseUint64(envPrefix+"STORAGE_MIN_FREE_BYTES", cfg.Storage.MinFreeBytes)
	cfg.Storage.CleanupAge = ParseDuration(envPrefix+"STORAGE_CLEANUP_AGE", cfg.Storage.CleanupAge)
	cfg.Storage.CleanupInterval = ParseDuration(envPrefix+"STORAGE_CLEANUP_INTERVAL", cfg.Storage.CleanupInterval)

	cfg.Downloads.WorkerCount = ParseInt(envPrefix+"DOWNLOADS_WORKER_COUNT", cfg.Downloads.WorkerCount)
	cfg.Downloads.QueueCapacity = ParseInt(envPrefix+"DOWNLOADS_QUEUE_CAPACITY", cfg.Downloads.QueueCapacity)
	cfg.Downloads.MaxAttempts = ParseInt(envPrefix+"DOWNLOADS_MAX_ATTEMPTS", cfg.Downloads.MaxAttempts)
	cfg.Downloads.BackoffBase = ParseDuration(envPrefix+"DOWNLOADS_BACKOFF_BASE", cfg.Downloads.BackoffBase)
	cfg.Downloads.BackoffMax = ParseDuration(envPrefix+"DOWNLOADS_BACKOFF_MAX", cfg.Downloads.BackoffMax)

	cfg.Templates.Default = ParseString(envPrefix+"TEMPLATES_DEFAULT", cfg.Templates.Default)

	cfg.Logging.Level = ParseString(envPrefix+"LOGGING_LEVEL", cfg.Logging.Level)
	cfg.Logging.Service = ParseString(envPrefix+"LOGGING_SERVICE", cfg.Logging.Service)

	cfg.Security.AuthHeaderName = ParseString(envPrefix+"SECURITY_AUTH_HEADER_NAME", cfg.Security.AuthHeaderName)
	cfg.Security.APIKeys = ParseStringSlice(envPrefix+"SECURITY_API_KEYS", cfg.Security.APIKeys)
	cfg.Security.ExemptPaths = ParseStringSlice(envPrefix+"SECURITY_EXEMPT_PATHS", cfg.Security.ExemptPaths)
	cfg.Security.DegradedMode = ParseBool(envPrefix+"SECURITY_DEGRADED_MODE", cfg.Security.DegradedMode)
	cfg.Security.DebugMode = ParseBool(envPrefix+"SECURITY_DEBUG_MODE", cfg.Security.DebugMode)

	cfg.Monitoring.MetricsEnabled = ParseBool(envPrefix+"MONITORING_METRICS_ENABLED", cfg.Monitoring.MetricsEnabled)
	cfg.Monitoring.TracingEnabled = ParseBool(envPrefix+"MONITORING_TRACING_ENABLED", cfg.Monitoring.TracingEnabled)
	cfg.Monitoring.OTLPEndpoint = ParseString(envPrefix+"MONITORING_OTLP_ENDPOINT", cfg.Monitoring.OTLPEndpoint)

	cfg.Extractor.BinaryPath = ParseString(envPrefix+"EXTRACTOR_BINARY_PATH", cfg.Extractor.BinaryPath)
	cfg.Extractor.ScriptRuntime = ParseString(envPrefix+"EXTRACTOR_SCRIPT_RUNTIME", cfg.Extractor.ScriptRuntime)
	cfg.Extractor.MinRuntimeVer = ParseString(envPrefix+"EXTRACTOR_MIN_RUNTIME_VERSION", cfg.Extractor.MinRuntimeVer)
}
