// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler implements the Scheduler (C11): a bounded priority
// queue and a fixed-size worker pool driving the Job state machine.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/fvadicamo/yt-dlp-api/internal/apierror"
	"github.com/fvadicamo/yt-dlp-api/internal/jobstore"
	"github.com/fvadicamo/yt-dlp-api/internal/log"
	"github.com/fvadicamo/yt-dlp-api/internal/metrics"
)

const (
	// PriorityMetadata is the admission priority for synchronous metadata
	// lookups that piggyback on the same queue (lower = earlier).
	PriorityMetadata = 1
	// PriorityDownload is the admission priority for download jobs.
	PriorityDownload = 10
)

// ReportFunc lets a Handler signal an interim state transition (only
// PROCESSING <-> RETRYING is meaningful mid-attempt) without taking the
// Scheduler's internal locks itself.
type ReportFunc func(state jobstore.State)

// Handler executes one job to completion. It is expected to run the
// provider-dispatch/retry/extractor pipeline and return either a produced
// file (downloads) or simply an error (pure validation or terminal
// failure). report lets it reflect RETRYING excursions into the JobStore.
type Handler func(ctx context.Context, job *jobstore.Job, report ReportFunc) (filePath string, fileSizeBytes int64, err error)

// Config controls queue capacity and worker concurrency.
type Config struct {
	QueueCapacity int
	WorkerCount   int
}

// DefaultConfig returns the spec's defaults (capacity 100, 5 workers).
func DefaultConfig() Config {
	return Config{QueueCapacity: 100, WorkerCount: 5}
}

// Scheduler is the scheduling core: one producer-side mutex serializes
// enqueue/dequeue against the bounded heap; a fixed pool of
// cfg.WorkerCount worker goroutines caps concurrency.
type Scheduler struct {
	cfg     Config
	store   *jobstore.Store
	handler Handler

	mu    sync.Mutex
	cond  *sync.Cond
	queue priorityQueue
	index map[string]*item

	active   map[string]struct{} // ActiveFileSet: relative output paths in flight
	activeMu sync.RWMutex

	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler bound to store for job persistence and handler
// for per-job execution.
func New(cfg Config, store *jobstore.Store, handler Handler) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		handler: handler,
		index:   make(map[string]*item),
		active:  make(map[string]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue admits a new job at the given priority. It fails with
// QUEUE_FULL when the bounded queue is at capacity.
func (s *Scheduler) Enqueue(url string, params jobstore.Params, priority int) (*jobstore.Job, error) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		metrics.JobsRejectedTotal.WithLabelValues("queue_full").Inc()
		return nil, apierror.New(apierror.CodeQueueFull, "the job queue is at capacity")
	}

	params.Priority = priority
	job := s.store.Create(url, params)

	it := &item{jobID: job.ID, priority: priority, enqueued: time.Now()}
	heap.Push(&s.queue, it)
	s.index[job.ID] = it
	s.mu.Unlock()

	s.cond.Signal()
	metrics.JobsEnqueuedTotal.WithLabelValues(categoryForPriority(priority)).Inc()
	metrics.QueueDepth.WithLabelValues(categoryForPriority(priority)).Set(float64(s.Len()))
	return job, nil
}

func categoryForPriority(p int) string {
	if p <= PriorityMetadata {
		return "metadata"
	}
	return "download"
}

// Len reports the current queue depth.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// pop blocks until a job is available or the scheduler is closed. It
// returns ok=false once closed with an empty queue.
func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return "", false
	}
	it := heap.Pop(&s.queue).(*item)
	delete(s.index, it.jobID)
	metrics.QueueDepth.WithLabelValues(categoryForPriority(it.priority)).Set(float64(len(s.queue)))
	return it.jobID, true
}

// Pin adds relPath to the ActiveFileSet; StorageReaper consults IsActive
// before deleting anything under the output directory.
func (s *Scheduler) Pin(relPath string) {
	if relPath == "" {
		return
	}
	s.activeMu.Lock()
	s.active[relPath] = struct{}{}
	s.activeMu.Unlock()
}

// Unpin removes relPath from the ActiveFileSet.
func (s *Scheduler) Unpin(relPath string) {
	s.activeMu.Lock()
	delete(s.active, relPath)
	s.activeMu.Unlock()
}

// IsActive implements reaper.ActiveFileSet.
func (s *Scheduler) IsActive(relPath string) bool {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	_, ok := s.active[relPath]
	return ok
}

// Start launches cfg.WorkerCount worker goroutines. It returns
// immediately; call Shutdown to stop them.
func (s *Scheduler) Start(ctx context.Context) {
	n := s.cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}
}

// Shutdown stops accepting new dequeues and waits for in-flight jobs to
// finish (bounded by ctx). Queued-but-not-picked jobs remain PENDING and
// are lost, per spec.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.WithComponent("scheduler").Warn().Msg("shutdown deadline exceeded with workers still in flight")
	}
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		jobID, ok := s.pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.runJob(ctx, jobID)
	}
}

func (s *Scheduler) runJob(ctx context.Context, jobID string) {
	logger := log.WithComponent("scheduler")

	job, ok := s.store.Get(jobID)
	if !ok {
		return
	}

	started := time.Now()
	s.store.Update(jobID, func(j *jobstore.Job) {
		j.State = jobstore.StateProcessing
		j.StartedAt = started
	})
	metrics.JobStateTransitionsTotal.WithLabelValues(string(jobstore.StatePending), string(jobstore.StateProcessing)).Inc()

	// report is invoked once per extractor attempt (see retry.Do's
	// onAttempt hook): it both records the attempt and reflects the
	// PROCESSING<->RETRYING excursion for attempts after the first.
	report := func(state jobstore.State) {
		s.store.Update(jobID, func(j *jobstore.Job) {
			j.AttemptCount++
			j.State = state
		})
	}

	filePath, fileSize, err := s.handler(ctx, &job, report)
	duration := time.Since(started)

	if err != nil {
		apiErr, _ := apierror.As(err)
		code := "DOWNLOAD_FAILED"
		if apiErr != nil {
			code = string(apiErr.Code)
		}
		s.store.Update(jobID, func(j *jobstore.Job) {
			j.State = jobstore.StateFailed
			j.ErrorCode = code
			j.ErrorMessage = err.Error()
			j.CompletedAt = time.Now()
		})
		metrics.JobStateTransitionsTotal.WithLabelValues(string(jobstore.StateProcessing), string(jobstore.StateFailed)).Inc()
		metrics.JobDurationSeconds.WithLabelValues("failed").Observe(duration.Seconds())
		logger.Warn().Str("job_id", jobID).Err(err).Msg("job failed")
		return
	}

	s.store.Update(jobID, func(j *jobstore.Job) {
		j.State = jobstore.StateCompleted
		j.FilePath = filePath
		j.FileSizeBytes = fileSize
		j.CompletedAt = time.Now()
		j.Progress = 100
	})
	metrics.JobStateTransitionsTotal.WithLabelValues(string(jobstore.StateProcessing), string(jobstore.StateCompleted)).Inc()
	metrics.JobDurationSeconds.WithLabelValues("completed").Observe(duration.Seconds())
	logger.Info().Str("job_id", jobID).Msg("job completed")
}
