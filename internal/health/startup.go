// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fvadicamo/yt-dlp-api/internal/config"
	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks implements C14 StartupValidator: it verifies the
// extractor binary, scripting runtime, output directory writability, and
// per-provider credential presence before the server accepts traffic. With
// security.degraded_mode set, a provider missing its required credential is
// downgraded from a fatal error to a warning rather than aborting startup;
// this function only logs it, and cmd/server registers that provider
// disabled.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkOutputDir(logger, cfg.Storage.OutputDir); err != nil {
		return fmt.Errorf("output directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, cfg.Server.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if err := checkExtractorRuntime(logger, cfg.Extractor); err != nil {
		return fmt.Errorf("extractor runtime check failed: %w", err)
	}
	if err := checkProviders(logger, cfg.Providers, cfg.Security.DegradedMode); err != nil {
		return fmt.Errorf("provider credential check failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkOutputDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(path, 0o750); mkErr != nil {
				return fmt.Errorf("output directory does not exist and could not be created: %s: %w", path, mkErr)
			}
			info, err = os.Stat(path)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("output directory is not writable: %s: %w", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("output directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("server listen_addr must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("listen address is valid")
	return nil
}

func checkExtractorRuntime(logger zerolog.Logger, cfg config.ExtractorConfig) error {
	binPath := cfg.BinaryPath
	if binPath == "" {
		binPath = "yt-dlp"
	}
	if _, err := exec.LookPath(binPath); err != nil {
		return fmt.Errorf("extractor binary not found (%s): %w", binPath, err)
	}
	if out, err := exec.Command(binPath, "--version").CombinedOutput(); err != nil { // #nosec G204 -- path comes from operator config
		return fmt.Errorf("extractor binary %s did not report a version: %w", binPath, err)
	} else {
		logger.Info().Str("binary", binPath).Str("version", strings.TrimSpace(string(out))).Msg("extractor binary present")
	}

	runtime := cfg.ScriptRuntime
	if runtime == "" {
		runtime = "python3"
	}
	if _, err := exec.LookPath(runtime); err != nil {
		return fmt.Errorf("scripting runtime not found (%s): %w", runtime, err)
	}
	if cfg.MinRuntimeVer != "" {
		out, err := exec.Command(runtime, "--version").CombinedOutput() // #nosec G204 -- path comes from operator config
		if err != nil {
			return fmt.Errorf("scripting runtime %s did not report a version: %w", runtime, err)
		}
		got, err := parseMajorVersion(string(out))
		if err != nil {
			return fmt.Errorf("could not determine %s major version: %w", runtime, err)
		}
		want, err := strconv.Atoi(cfg.MinRuntimeVer)
		if err != nil {
			return fmt.Errorf("invalid extractor.min_runtime_version %q: %w", cfg.MinRuntimeVer, err)
		}
		if got < want {
			return fmt.Errorf("scripting runtime %s major version %d is below required %d", runtime, got, want)
		}
	}

	processor := cfg.MediaProcessorPath
	if processor == "" {
		processor = "ffmpeg"
	}
	if _, err := exec.LookPath(processor); err != nil {
		return fmt.Errorf("media-processing binary not found (%s): %w", processor, err)
	}

	logger.Info().Str("binary", binPath).Str("runtime", runtime).Str("media_processor", processor).Msg("extractor dependencies available")
	return nil
}

func checkProviders(logger zerolog.Logger, cfg config.ProvidersConfig, degradedMode bool) error {
	for name, binding := range cfg.Bindings {
		if !binding.CredentialReq {
			continue
		}
		if binding.CookiePath == "" {
			if degradedMode {
				logger.Warn().Str("provider", name).Msg("credential required but not configured; disabling provider in degraded mode")
				continue
			}
			return fmt.Errorf("provider %q requires a credential but none is configured", name)
		}
		if err := checkFileReadable(binding.CookiePath); err != nil {
			if degradedMode {
				logger.Warn().Str("provider", name).Err(err).Msg("credential unreadable; disabling provider in degraded mode")
				continue
			}
			return fmt.Errorf("provider %q credential unreadable (%s): %w", name, binding.CookiePath, err)
		}
		logger.Info().Str("provider", name).Msg("provider credential is readable")
	}
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}
