// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package reaper

import "syscall"

// diskUsage returns the used-space fraction (0-100) and free bytes for the
// filesystem backing path.
func diskUsage(path string) (usedPct float64, freeBytes uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	if total == 0 {
		return 0, free, nil
	}
	used := total - free
	return (float64(used) / float64(total)) * 100, free, nil
}

// FreeBytes exposes diskUsage's free-space figure for health.DiskSpaceChecker.
func FreeBytes(path string) (uint64, error) {
	_, free, err := diskUsage(path)
	return free, err
}
