// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobstore implements the JobStore (C10): an in-memory job
// registry with exclusive read-modify-write updates and a TTL sweeper.
package jobstore

import (
	"crypto/rand"
	"encoding/base32"
	"sync"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/log"
)

// State is a Job's position in its lifecycle state machine.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateRetrying   State = "RETRYING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Params is the client-supplied request shape carried by a Job.
type Params struct {
	FormatID     string
	OutputTemplate string
	AudioFormat  string
	AudioQuality string
	SubtitleLang string
	Priority     int
}

// Job is one accepted download request and its execution state.
type Job struct {
	ID            string
	State         State
	URL           string
	Params        Params
	Progress      int
	AttemptCount  int
	ErrorCode     string
	ErrorMessage  string
	FilePath      string
	FileSizeBytes int64
	PinnedFile    string
	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Store owns every live Job record.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	jobTTL time.Duration
}

// New creates an empty Store. jobTTL bounds how long a completed/failed
// job is retained before the sweeper reclaims it.
func New(jobTTL time.Duration) *Store {
	return &Store{jobs: make(map[string]*Job), jobTTL: jobTTL}
}

func randomID() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// Create assigns a random ID, inserts a PENDING record, and returns it.
func (s *Store) Create(url string, params Params) *Job {
	job := &Job{
		ID:        randomID(),
		State:     StatePending,
		URL:       url,
		Params:    params,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job
}

// Get returns a consistent snapshot of the job with id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Update performs an exclusive read-modify-write on the job with id. It is
// intended for workers only; fn mutates the job in place.
func (s *Store) Update(id string, fn func(j *Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(j)
	return true
}

// Sweep removes completed/failed jobs whose TTL has elapsed. Live jobs
// (no CompletedAt) are never removed.
func (s *Store) Sweep() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	for id, j := range s.jobs {
		if j.CompletedAt.IsZero() {
			continue
		}
		if now.Sub(j.CompletedAt) > s.jobTTL {
			delete(s.jobs, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		log.WithComponent("jobstore").Debug().Int("removed", removed).Msg("swept expired jobs")
	}
	return removed
}

// Run starts the fixed-interval sweeper loop, blocking until done is closed.
func (s *Store) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports the number of currently tracked jobs (for diagnostics/tests).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
