// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health provides health and readiness check functionality for production deployments.
// It supports Docker HEALTHCHECK and Kubernetes probes with detailed component status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"golang.org/x/sync/singleflight"
)

// CheckType defines the scope of a health check
type CheckType uint8

const (
	CheckHealth    CheckType = 1 << 0
	CheckReadiness CheckType = 1 << 1
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime,omitempty"` // Uptime in seconds since startup
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Type() CheckType
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version       string
	checkers      []Checker
	startTime     time.Time // Track startup time for uptime calculation
	readyStrict   bool
	mu            sync.RWMutex
	sfg           singleflight.Group
	lastReadyResp ReadinessResponse
	lastReadyTime time.Time
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{
		version:   version,
		checkers:  make([]Checker, 0),
		startTime: time.Now(),
	}
}

// SetReadyStrict records the strict-readiness flag. Ready does not read it:
// it always runs only the READINESS-scoped checkers, whatever the flag's value.
func (m *Manager) SetReadyStrict(strict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyStrict = strict
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Health performs a health check (liveness probe)
// Returns 200 if the process is alive, regardless of service state
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.startTime).Seconds()),
		Timestamp: time.Now(),
	}

	if verbose {
		resp.Checks = make(map[string]CheckResult)
		m.mu.RLock()
		checkers := append([]Checker(nil), m.checkers...)
		m.mu.RUnlock()

		hasUnhealthy := false
		hasDegraded := false

		for _, c := range checkers {
			res := c.Check(ctx)
			resp.Checks[c.Name()] = res
			switch res.Status {
			case StatusUnhealthy:
				hasUnhealthy = true
			case StatusDegraded:
				hasDegraded = true
			}
		}

		if hasUnhealthy {
			resp.Status = StatusUnhealthy
		} else if hasDegraded {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// Ready performs a readiness check (readiness probe)
// Returns 200 if services are initialized and ready to serve traffic
func (m *Manager) Ready(ctx context.Context, verbose bool) ReadinessResponse {
	// Always run readiness-scoped checkers to ensure 503 until first successful refresh
	// (Production-ready behavior: don't route traffic until data is loaded)

	// Check cache first (1s TTL) to prevent sequential churn
	m.mu.RLock()
	if !m.lastReadyTime.IsZero() && time.Since(m.lastReadyTime) < 1*time.Second {
		cached := m.lastReadyResp
		m.mu.RUnlock()
		// Return computed-at timestamp (preserve original)
		if verbose {
			cached.Checks = cloneChecks(cached.Checks)
		} else {
			cached.Checks = nil
		}
		return cached
	}
	m.mu.RUnlock()

	// Use singleflight to prevent thundering herd on upstream.
	val, err, _ := m.sfg.Do("readiness", func() (interface{}, error) {
		// Use DETACHED context for the shared probe.
		// This prevents the first caller's context cancellation from aborting the shared run.
		probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		m.mu.RLock()
		checkers := append([]Checker(nil), m.checkers...)
		m.mu.RUnlock()

		var wg sync.WaitGroup
		var mu sync.Mutex

		// Default to ready/healthy, will be downgraded by failures
		result := ReadinessResponse{
			Ready:     true,
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Checks:    make(map[string]CheckResult),
		}

		for _, c := range checkers {
			// Filter: Only run checks explicitly marked for Readiness
			if c.Type()&CheckReadiness == 0 {
				continue
			}

			wg.Add(1)
			go func(checker Checker) {
				defer wg.Done()
				// Use the shared probeCtx
				res := checker.Check(probeCtx)

				mu.Lock()
				defer mu.Unlock()
				result.Checks[checker.Name()] = res

				// Aggregation logic
				if res.Status == StatusUnhealthy {
					result.Status = StatusUnhealthy
					result.Ready = false
				} else if res.Status == StatusDegraded && result.Status != StatusUnhealthy {
					result.Status = StatusDegraded
				}
			}(c)
		}
		wg.Wait()

		if probeCtx.Err() != nil {
			return result, probeCtx.Err()
		}

		// Update cache
		m.mu.Lock()
		cachedResult := result
		cachedResult.Checks = cloneChecks(result.Checks)
		m.lastReadyResp = cachedResult
		m.lastReadyTime = result.Timestamp // Use computed-at time
		m.mu.Unlock()

		return result, nil
	})

	if err != nil {
		// Stale-on-error fallback: if upstream fails, serve stale cache for up to 5s
		// This prevents transient network glitches from flapping readiness
		m.mu.RLock()
		cached := m.lastReadyResp
		lastTime := m.lastReadyTime
		m.mu.RUnlock()

		if !lastTime.IsZero() && time.Since(lastTime) < 5*time.Second {
			cached.Error = err.Error() // Surface fallback cause
			if verbose {
				cached.Checks = cloneChecks(cached.Checks)
			} else {
				cached.Checks = nil
			}
			return cached
		}

		return ReadinessResponse{
			Ready:     false,
			Status:    StatusUnhealthy,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
	}

	// Safer type assertion
	respStrict, ok := val.(ReadinessResponse)
	if !ok {
		// Should never happen, but handle gracefully
		resp := ReadinessResponse{
			Ready:     false,
			Status:    StatusUnhealthy,
			Timestamp: time.Now(),
			Error:     "internal type assertion failed",
		}
		if verbose {
			resp.Checks = map[string]CheckResult{"internal": {Status: StatusUnhealthy, Error: "type assertion failed"}}
		}
		return resp
	}

	if !verbose {
		respStrict.Checks = nil
	}

	return respStrict
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // Always 200 for liveness

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}

	logger.Debug().
		Str("event", "health.checked").
		Str("status", string(resp.Status)).
		Bool("verbose", verbose).
		Msg("health check performed")
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Ready(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Bool("verbose", verbose).
		Msg("readiness check performed")
}

// FileChecker checks if a file exists and is readable
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{
		name: name,
		path: path,
	}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Type() CheckType {
	return CheckHealth | CheckReadiness
}

func (c *FileChecker) Check(ctx context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "not configured (optional)",
		}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   "file not found",
				Message: c.path,
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	if info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "expected file, got directory",
		}
	}

	if info.Size() == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "file is empty",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "file exists and readable",
	}
}

// SchedulerChecker reports on the health of the job scheduler: whether
// workers are alive and the queue is not saturated.
type SchedulerChecker struct {
	getStats func() (queueDepth, queueCapacity, activeWorkers, totalWorkers int)
}

// NewSchedulerChecker creates a checker for scheduler liveness.
func NewSchedulerChecker(getStats func() (queueDepth, queueCapacity, activeWorkers, totalWorkers int)) *SchedulerChecker {
	return &SchedulerChecker{getStats: getStats}
}

func (c *SchedulerChecker) Name() string {
	return "scheduler"
}

func (c *SchedulerChecker) Type() CheckType {
	return CheckHealth | CheckReadiness
}

func (c *SchedulerChecker) Check(ctx context.Context) CheckResult {
	depth, capacity, active, total := c.getStats()

	if total == 0 {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "no workers running",
		}
	}

	if capacity > 0 && depth >= capacity {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "job queue at capacity",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d/%d workers active, queue depth %d", active, total, depth),
	}
}

// CookieStoreChecker reports whether a provider's credential jar is present
// and has not exceeded its configured maximum age.
type CookieStoreChecker struct {
	provider   string
	maxAge     time.Duration
	getStatus  func(provider string) (present bool, age time.Duration, err error)
	isRequired bool
}

// NewCookieStoreChecker creates a checker for one provider's cookie jar.
func NewCookieStoreChecker(provider string, maxAge time.Duration, required bool, getStatus func(string) (bool, time.Duration, error)) *CookieStoreChecker {
	return &CookieStoreChecker{
		provider:   provider,
		maxAge:     maxAge,
		getStatus:  getStatus,
		isRequired: required,
	}
}

func (c *CookieStoreChecker) Name() string {
	return "cookie_store_" + c.provider
}

func (c *CookieStoreChecker) Type() CheckType {
	return CheckReadiness
}

func (c *CookieStoreChecker) Check(ctx context.Context) CheckResult {
	present, age, err := c.getStatus(c.provider)
	if err != nil {
		status := StatusDegraded
		if c.isRequired {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Error: err.Error(), Message: "cookie validation failed"}
	}

	if !present {
		status := StatusDegraded
		if c.isRequired {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Message: "no cookie jar loaded"}
	}

	if c.maxAge > 0 && age > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("cookie jar is %s old, exceeds max age %s", age.Round(time.Second), c.maxAge),
		}
	}

	return CheckResult{Status: StatusHealthy, Message: "cookie jar valid"}
}

// DiskSpaceChecker reports the free space on the configured output
// filesystem against a minimum free-bytes threshold.
type DiskSpaceChecker struct {
	path       string
	minFree    uint64
	getFreeFn  func(path string) (uint64, error)
	isRequired bool
}

// NewDiskSpaceChecker creates a checker for output filesystem free space.
func NewDiskSpaceChecker(path string, minFreeBytes uint64, getFree func(string) (uint64, error)) *DiskSpaceChecker {
	return &DiskSpaceChecker{path: path, minFree: minFreeBytes, getFreeFn: getFree, isRequired: true}
}

func (c *DiskSpaceChecker) Name() string {
	return "disk_space"
}

func (c *DiskSpaceChecker) Type() CheckType {
	return CheckReadiness
}

func (c *DiskSpaceChecker) Check(ctx context.Context) CheckResult {
	free, err := c.getFreeFn(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "could not stat output filesystem"}
	}

	if free < c.minFree {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%d bytes free, below minimum %d", free, c.minFree),
		}
	}

	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d bytes free", free)}
}

var versionNumberPattern = regexp.MustCompile(`(\d+)\.\d+`)

func parseMajorVersion(s string) (int, error) {
	m := versionNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no version number found in %q", strings.TrimSpace(s))
	}
	return strconv.Atoi(m[1])
}

// BinaryChecker reports whether an external binary (the extractor, its
// scripting runtime, or its media-processing helper) is present on PATH
// and, when minMajorVersion is positive, that `<path> --version` reports
// at least that major version.
type BinaryChecker struct {
	name            string
	path            string
	minMajorVersion int
}

// NewBinaryChecker creates a readiness checker for an external binary.
// minMajorVersion < 0 checks presence only; 0 also probes and reports
// `<path> --version` without enforcing a floor; > 0 additionally fails
// when the reported major version is below it.
func NewBinaryChecker(name, path string, minMajorVersion int) *BinaryChecker {
	return &BinaryChecker{name: name, path: path, minMajorVersion: minMajorVersion}
}

func (c *BinaryChecker) Name() string {
	return c.name
}

func (c *BinaryChecker) Type() CheckType {
	return CheckReadiness
}

func (c *BinaryChecker) Check(ctx context.Context) CheckResult {
	if _, err := exec.LookPath(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path + " not found on PATH"}
	}
	if c.minMajorVersion < 0 {
		return CheckResult{Status: StatusHealthy, Message: c.path + " present"}
	}

	out, err := exec.CommandContext(ctx, c.path, "--version").CombinedOutput() // #nosec G204 -- path comes from operator config
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "version probe failed"}
	}
	if c.minMajorVersion > 0 {
		major, verr := parseMajorVersion(string(out))
		if verr != nil {
			return CheckResult{Status: StatusDegraded, Error: verr.Error(), Message: "could not parse version output"}
		}
		if major < c.minMajorVersion {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("major version %d is below required %d", major, c.minMajorVersion),
			}
		}
	}
	return CheckResult{Status: StatusHealthy, Message: strings.TrimSpace(string(out))}
}

// ConnectivityChecker probes outbound reachability through a provider's
// endpoint with a lightweight HTTP HEAD request.
type ConnectivityChecker struct {
	provider string
	url      string
	client   *http.Client
}

// NewConnectivityChecker creates a connectivity checker for the given
// provider and probe URL. An empty url disables the probe (reports healthy
// but unconfigured), since connectivity probing is only meaningful once an
// operator has designated a primary provider.
func NewConnectivityChecker(provider, url string, timeout time.Duration) *ConnectivityChecker {
	return &ConnectivityChecker{provider: provider, url: url, client: &http.Client{Timeout: timeout}}
}

func (c *ConnectivityChecker) Name() string {
	return "connectivity_" + c.provider
}

func (c *ConnectivityChecker) Type() CheckType {
	return CheckReadiness
}

func (c *ConnectivityChecker) Check(ctx context.Context) CheckResult {
	if c.url == "" {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "primary provider unreachable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("primary provider returned %d", resp.StatusCode)}
	}
	return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("primary provider reachable (%d)", resp.StatusCode)}
}

func cloneChecks(in map[string]CheckResult) map[string]CheckResult {
	if in == nil {
		return nil
	}
	out := make(map[string]CheckResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
