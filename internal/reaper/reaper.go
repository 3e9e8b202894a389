// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reaper implements the StorageReaper (C6): disk-usage-triggered,
// age-based cleanup of the output directory with active-file pinning.
package reaper

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
)

// ActiveFileSet reports whether a relative path is currently in use by a
// job and must never be deleted.
type ActiveFileSet interface {
	IsActive(relPath string) bool
}

// Config controls the reaper's triggering thresholds.
type Config struct {
	OutputDir        string
	CleanupThreshold float64       // used_pct above which a timer-triggered run actually deletes
	CleanupAge       time.Duration // minimum file age before it is eligible for deletion
	Interval         time.Duration // timer period; zero disables the timer
	DryRun           bool
}

// Result summarizes one reaper pass.
type Result struct {
	FilesDeleted  int
	BytesReclaimed uint64
	UsedPercent    float64
	DryRun         bool
}

// Reaper owns the periodic and on-demand cleanup cycle.
type Reaper struct {
	cfg    Config
	active ActiveFileSet

	mu      sync.Mutex
	running bool
}

// New creates a Reaper. active supplies the set of paths currently
// in-flight, which the reaper must never delete regardless of age.
func New(cfg Config, active ActiveFileSet) *Reaper {
	return &Reaper{cfg: cfg, active: active}
}

// Run starts the fixed-interval timer loop. It blocks until ctx is
// cancelled, so callers should invoke it in its own goroutine.
func (r *Reaper) Run(ctx context.Context) {
	if r.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, false); err != nil {
				log.WithComponent("reaper").Error().Err(err).Msg("scheduled sweep failed")
			}
		}
	}
}

// Sweep performs one cleanup pass. When explicit is false, the sweep is a
// no-op (beyond measuring disk usage) unless used space exceeds the
// configured cleanup threshold.
func (r *Reaper) Sweep(ctx context.Context, explicit bool) (Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Result{}, nil
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	usedPct, freeBytes, err := diskUsage(r.cfg.OutputDir)
	if err != nil {
		return Result{}, err
	}
	metrics.DiskFreeBytes.Set(float64(freeBytes))

	logger := log.WithComponent("reaper")
	if !explicit && usedPct < r.cfg.CleanupThreshold {
		logger.Debug().Float64("used_pct", usedPct).Msg("below cleanup threshold, skipping sweep")
		metrics.ReaperRunsTotal.WithLabelValues("skipped").Inc()
		return Result{UsedPercent: usedPct}, nil
	}

	now := time.Now()
	result := Result{UsedPercent: usedPct, DryRun: r.cfg.DryRun}

	err = filepath.WalkDir(r.cfg.OutputDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(r.cfg.OutputDir, path)
		if err != nil {
			return nil
		}
		if r.active != nil && r.active.IsActive(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) < r.cfg.CleanupAge {
			return nil
		}

		result.FilesDeleted++
		result.BytesReclaimed += uint64(info.Size())
		if !r.cfg.DryRun {
			if rmErr := removeRegularFile(path); rmErr != nil {
				logger.Warn().Str("path", rel).Err(rmErr).Msg("failed to delete reaped file")
				result.FilesDeleted--
				result.BytesReclaimed -= uint64(info.Size())
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	metrics.ReaperRunsTotal.WithLabelValues("completed").Inc()
	if !r.cfg.DryRun {
		metrics.ReaperReclaimedBytesTotal.WithLabelValues("age").Add(float64(result.BytesReclaimed))
	}

	logger.Info().
		Int("files_deleted", result.FilesDeleted).
		Uint64("bytes_reclaimed", result.BytesReclaimed).
		Float64("used_pct", usedPct).
		Bool("dry_run", r.cfg.DryRun).
		Msg("sweep complete")

	return result, nil
}

// removeRegularFile deletes path only if it resolves to a regular file,
// refusing to follow a symlink planted after the directory walk observed it.
func removeRegularFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil
	}
	return os.Remove(path)
}
