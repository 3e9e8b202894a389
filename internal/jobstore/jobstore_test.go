// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobstore

import (
	"testing"
	"time"
)

func TestCreateInsertsPendingJob(t *testing.T) {
	s := New(time.Hour)
	job := s.Create("https://example.com/v", Params{Priority: 10})

	if job.State != StatePending {
		t.Errorf("expected PENDING, got %s", job.State)
	}
	if job.ID == "" {
		t.Error("expected non-empty job ID")
	}

	got, ok := s.Get(job.ID)
	if !ok {
		t.Fatal("expected job to be retrievable")
	}
	if got.URL != "https://example.com/v" {
		t.Errorf("unexpected URL: %s", got.URL)
	}
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	s := New(time.Hour)
	a := s.Create("https://example.com/a", Params{})
	b := s.Create("https://example.com/b", Params{})
	if a.ID == b.ID {
		t.Error("expected distinct job IDs")
	}
}

func TestUpdateMutatesInPlace(t *testing.T) {
	s := New(time.Hour)
	job := s.Create("https://example.com/v", Params{})

	ok := s.Update(job.ID, func(j *Job) {
		j.State = StateProcessing
		j.StartedAt = time.Now()
	})
	if !ok {
		t.Fatal("expected update to find the job")
	}

	got, _ := s.Get(job.ID)
	if got.State != StateProcessing {
		t.Errorf("expected PROCESSING, got %s", got.State)
	}
}

func TestUpdateReturnsFalseForUnknownJob(t *testing.T) {
	s := New(time.Hour)
	if s.Update("nonexistent", func(j *Job) {}) {
		t.Error("expected update on unknown job to fail")
	}
}

func TestSweepRemovesExpiredCompletedJobs(t *testing.T) {
	s := New(time.Millisecond)
	job := s.Create("https://example.com/v", Params{})
	s.Update(job.ID, func(j *Job) {
		j.State = StateCompleted
		j.CompletedAt = time.Now().Add(-time.Hour)
	})

	removed := s.Sweep()
	if removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
	if _, ok := s.Get(job.ID); ok {
		t.Error("expected job to be gone after sweep")
	}
}

func TestSweepNeverRemovesLiveJobs(t *testing.T) {
	s := New(time.Nanosecond)
	job := s.Create("https://example.com/v", Params{})

	removed := s.Sweep()
	if removed != 0 {
		t.Errorf("expected 0 removals for a live job, got %d", removed)
	}
	if _, ok := s.Get(job.ID); !ok {
		t.Error("expected live job to remain after sweep")
	}
}
