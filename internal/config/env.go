// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/rs/zerolog"
)

// isSensitiveKey reports whether a key name suggests its value should never
// be logged verbatim.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "token") || strings.Contains(lower, "password") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "key")
}

// ParseString reads a string from an environment variable, logging its
// provenance (environment or default) for observability. Sensitive keys are
// never logged with their value.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	logEnvUse(logger, key, v)
	return v
}

// ParseInt reads an integer from an environment variable or falls back to
// the default on parse errors or absence.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Int("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).Msg("invalid integer, using default")
		return defaultValue
	}
	logEnvUse(logger, key, v)
	return i
}

// ParseUint64 reads a uint64 from an environment variable or falls back to
// the default on parse errors or absence.
func ParseUint64(key string, defaultValue uint64) uint64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Uint64("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	i, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Uint64("default", defaultValue).Msg("invalid uint64, using default")
		return defaultValue
	}
	logEnvUse(logger, key, v)
	return i
}

// ParseFloat reads a float64 from an environment variable or falls back to
// the default.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Float64("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).Msg("invalid float, using default")
		return defaultValue
	}
	logEnvUse(logger, key, v)
	return f
}

// ParseDuration reads a Go duration string (e.g. "5s") from an environment
// variable or falls back to the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Dur("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).Msg("invalid duration, using default")
		return defaultValue
	}
	logEnvUse(logger, key, v)
	return d
}

// ParseBool reads "true"/"false"/"1"/"0"/"yes"/"no" (case-insensitive) from
// an environment variable or falls back to the default.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Bool("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		logEnvUse(logger, key, v)
		return true
	case "false", "0", "no":
		logEnvUse(logger, key, v)
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).Msg("invalid boolean, using default")
		return defaultValue
	}
}

// ParseStringSlice reads a comma-separated list from an environment variable.
func ParseStringSlice(key string, defaultValue []string) []string {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	logEnvUse(logger, key, v)
	return out
}

func logEnvUse(logger zerolog.Logger, key, value string) {
	if isSensitiveKey(key) {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
		return
	}
	logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").Msg("using environment variable")
}
