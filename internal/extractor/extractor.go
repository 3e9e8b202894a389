// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package extractor implements the ExtractorInvoker (C7): it shells out to
// the video-extractor binary, captures its output, and turns it into
// structured metadata or a downloaded file path.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
	"github.com/fvadicamo/yt-dlp-api/internal/procgroup"
	"github.com/fvadicamo/yt-dlp-api/internal/redact"
	"github.com/fvadicamo/yt-dlp-api/internal/validator"
)

const stderrLogLimit = 500

// Operation distinguishes the three extractor call shapes.
type Operation int

const (
	OpInfo Operation = iota
	OpFormats
	OpDownload
)

// Request bundles everything needed to build one extractor invocation.
type Request struct {
	Op           Operation
	Params       validator.DownloadParams
	CredentialPath string // empty when the provider needs no credential
	OutputPath   string // absolute destination path, OpDownload only
	ExtraArgs    []string
}

// Info is the decoded JSON object returned by an OpInfo/OpFormats call.
type Info map[string]any

// Result is the outcome of one successful invocation.
type Result struct {
	Info     Info   // populated for OpInfo/OpFormats; best-effort for OpDownload
	FilePath string // populated for OpDownload
	Stdout   []byte
}

// defaultProcessGrace bounds the wait between SIGTERM and SIGKILL when no
// grace period is configured.
const defaultProcessGrace = 5 * time.Second

// Invoker launches the extractor binary as a child process.
type Invoker struct {
	binaryPath    string
	scriptRuntime string
	processGrace  time.Duration
}

// New creates an Invoker bound to a specific extractor binary and scripting
// runtime (passed explicitly to the child process to resolve ambiguity
// about which interpreter should run any bundled helper scripts). grace
// bounds how long Invoke waits after SIGTERM before escalating to SIGKILL
// on context cancellation; zero falls back to defaultProcessGrace.
func New(binaryPath, scriptRuntime string, grace time.Duration) *Invoker {
	if grace <= 0 {
		grace = defaultProcessGrace
	}
	return &Invoker{binaryPath: binaryPath, scriptRuntime: scriptRuntime, processGrace: grace}
}

// Invoke runs req to completion. A non-zero exit surfaces stderr text and
// the exit code as the error; ctx cancellation terminates the child's
// whole process group (SIGTERM, then SIGKILL after a grace) via
// internal/procgroup rather than relying on exec.CommandContext's default
// direct-child-only kill.
func (i *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	argv := i.buildArgv(req)

	logger := log.WithComponent("extractor")
	logger.Debug().Strs("argv", redact.Argv(argv)).Msg("launching extractor")

	cmd := exec.Command(i.binaryPath, argv[1:]...) // #nosec G204 -- argv is built from validated inputs
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	procgroup.Set(cmd)

	start := time.Now()
	err := i.run(ctx, cmd)
	duration := time.Since(start)

	opLabel := operationLabel(req.Op)
	stderrPreview := truncateBytes(stderr.Bytes(), stderrLogLimit)
	logger.Debug().
		Int("exit_code", exitCode(cmd)).
		Int("stdout_lines", bytes.Count(stdout.Bytes(), []byte("\n"))).
		Str("stderr_preview", string(stderrPreview)).
		Dur("duration", duration).
		Msg("extractor exited")

	metrics.ExtractorDurationSeconds.WithLabelValues(opLabel).Observe(duration.Seconds())

	if err != nil {
		metrics.ExtractorInvocationsTotal.WithLabelValues(opLabel, "error").Inc()
		return Result{}, fmt.Errorf("extractor exited with %s: %s", err, strings.TrimSpace(stderr.String()))
	}
	metrics.ExtractorInvocationsTotal.WithLabelValues(opLabel, "success").Inc()

	return i.parseResult(req, stdout.Bytes())
}

// run starts cmd and races its completion against ctx. On cancellation it
// terminates the whole process group via procgroup.Terminate instead of
// leaving an orphaned child behind.
func (i *Invoker) run(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		return procgroup.Terminate(cmd, waitCh, i.processGrace)
	}
}

func (i *Invoker) buildArgv(req Request) []string {
	argv := []string{i.binaryPath}

	if i.scriptRuntime != "" {
		argv = append(argv, "--exec-runtime", i.scriptRuntime)
	}
	if req.CredentialPath != "" {
		argv = append(argv, "--cookies", req.CredentialPath)
	}

	switch req.Op {
	case OpInfo:
		argv = append(argv, "--dump-json", "--no-playlist", "--skip-download")
	case OpFormats:
		argv = append(argv, "--dump-json", "--no-playlist", "--skip-download", "--list-formats")
	case OpDownload:
		// --dump-json normally implies simulate-only; --no-simulate keeps
		// the download running so metadata and file are obtained from a
		// single invocation, satisfying the one-subprocess-per-job rule.
		argv = append(argv, "--no-playlist", "--dump-json", "--no-simulate", "--print", "after_move:%(filepath)s")
		if req.Params.FormatID != "" {
			argv = append(argv, "-f", req.Params.FormatID)
		}
		if req.Params.AudioFormat != "" {
			argv = append(argv, "-x", "--audio-format", req.Params.AudioFormat)
			if req.Params.AudioQuality != "" {
				argv = append(argv, "--audio-quality", req.Params.AudioQuality)
			}
		}
		if req.Params.SubtitleLang != "" {
			argv = append(argv, "--write-subs", "--sub-langs", req.Params.SubtitleLang)
		}
		if req.OutputPath != "" {
			argv = append(argv, "-o", req.OutputPath)
		}
	}

	argv = append(argv, req.ExtraArgs...)
	argv = append(argv, req.Params.URL)
	return argv
}

func (i *Invoker) parseResult(req Request, stdout []byte) (Result, error) {
	switch req.Op {
	case OpInfo, OpFormats:
		var info Info
		trimmed := bytes.TrimSpace(stdout)
		firstLine := trimmed
		if idx := bytes.IndexByte(trimmed, '\n'); idx >= 0 {
			firstLine = trimmed[:idx]
		}
		if err := json.Unmarshal(firstLine, &info); err != nil {
			return Result{}, fmt.Errorf("decoding extractor JSON output: %w", err)
		}
		return Result{Info: info, Stdout: stdout}, nil
	case OpDownload:
		path := extractDestination(stdout)
		if path == "" {
			return Result{}, fmt.Errorf("could not determine downloaded file path from extractor output")
		}
		// --dump-json (see buildArgv) also emits a metadata line; decode it
		// best-effort for callers that want it, but a download never fails
		// just because that line is missing or malformed.
		var info Info
		if idx := bytes.IndexByte(bytes.TrimSpace(stdout), '\n'); idx >= 0 {
			_ = json.Unmarshal(bytes.TrimSpace(stdout)[:idx], &info)
		} else {
			_ = json.Unmarshal(bytes.TrimSpace(stdout), &info)
		}
		return Result{Info: info, FilePath: path, Stdout: stdout}, nil
	default:
		return Result{Stdout: stdout}, nil
	}
}

// extractDestination prefers the last "Destination:" line that
// yt-dlp-family tools emit, falling back to the last non-empty line, which
// is what "--print after_move:%(filepath)s" writes.
func extractDestination(stdout []byte) string {
	lines := strings.Split(string(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "Destination:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Destination:"))
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

func operationLabel(op Operation) string {
	switch op {
	case OpInfo:
		return "info"
	case OpFormats:
		return "formats"
	case OpDownload:
		return "download"
	default:
		return "unknown"
	}
}
