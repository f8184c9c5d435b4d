// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"sync"
	"time"

	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

// Scheduler guarantees at most one outstanding flush job per room while
// coalescing bursts of requests into a single job.
//
// The coalescing is sound because the worker's drain happens at execution
// time, not at enqueue time: the existing job picks up everything appended to
// the buffer before it runs.
type Scheduler struct {
	mu          sync.Mutex
	outstanding map[models.RoomID]*Job
	queue       chan *Job
	closed      bool
}

// NewScheduler creates a scheduler with the given queue capacity.
func NewScheduler(queueSize int) *Scheduler {
	return &Scheduler{
		outstanding: make(map[models.RoomID]*Job),
		queue:       make(chan *Job, queueSize),
	}
}

// RequestFlush enqueues a flush job for the room unless one with the room's
// identity is already queued or running, in which case the call is a no-op.
// A burst of N sends produces one job, not N.
func (s *Scheduler) RequestFlush(roomID models.RoomID) error {
	if !roomID.Valid() {
		return models.ErrInvalidMessage
	}

	metrics.FlushJobsRequested.Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	if _, ok := s.outstanding[roomID]; ok {
		metrics.FlushJobsCoalesced.Inc()
		return nil
	}

	job := &Job{
		ID:         JobID(roomID),
		RoomID:     roomID,
		State:      JobStateQueued,
		EnqueuedAt: time.Now().UTC(),
	}

	select {
	case s.queue <- job:
		s.outstanding[roomID] = job
		logging.Debug().Str("job_id", job.ID).Msg("flush job enqueued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Outstanding reports whether a job for the room is currently queued or
// running.
func (s *Scheduler) Outstanding(roomID models.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.outstanding[roomID]
	return ok
}

// OutstandingCount reports the number of rooms with an outstanding job.
func (s *Scheduler) OutstandingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outstanding)
}

// jobs exposes the queue to the worker pool.
func (s *Scheduler) jobs() <-chan *Job {
	return s.queue
}

// markRunning transitions a dequeued job to running.
func (s *Scheduler) markRunning(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.State = JobStateRunning
}

// markRetrying records a failed durable append attempt on a job that stays
// outstanding while its drained batch is retried.
func (s *Scheduler) markRetrying(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.State = JobStateRetrying
	job.Attempts++
}

// finish settles a job in a final state and releases the room's identity so
// a later RequestFlush schedules a fresh job.
func (s *Scheduler) finish(job *Job, state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.State = state
	delete(s.outstanding, job.RoomID)
}

// Close stops accepting new jobs. Queued jobs drain normally.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
