// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package flush turns "a room has pending messages" into at most one
// outstanding flush job per room, and executes those jobs with a bounded
// worker pool that drains the room's buffer into the durable store.
package flush

import (
	"errors"
	"time"

	"github.com/tripmesh/chatrelay/internal/models"
)

// JobType is the single job type this subsystem schedules.
const JobType = "flush-room"

// JobState tracks a flush job through its lifecycle.
type JobState string

const (
	JobStateQueued   JobState = "queued"
	JobStateRunning  JobState = "running"
	JobStateComplete JobState = "completed"
	// JobStateRetrying marks a job whose durable append failed after a
	// successful drain; the drained batch is being retried from memory.
	JobStateRetrying JobState = "failed-retrying"
	// JobStateTerminal marks a job whose retry budget is exhausted. The
	// drained batch, if any, is parked in the dead-letter store.
	JobStateTerminal JobState = "failed-terminal"
)

// Job is one unit of flush work. Its identity is a deterministic function of
// the room, so a second request for the same room is absorbed into the
// existing job rather than creating a duplicate.
type Job struct {
	ID         string
	RoomID     models.RoomID
	State      JobState
	Attempts   int
	EnqueuedAt time.Time
}

// JobID derives the deduplication identity for a room's flush job.
func JobID(roomID models.RoomID) string {
	return JobType + ":" + roomID.String()
}

var (
	// ErrSchedulerClosed is returned when the scheduler cannot accept a
	// job request. Callers log and rely on the reconciler sweep.
	ErrSchedulerClosed = errors.New("flush scheduler closed")

	// ErrQueueFull is returned when the job queue is at capacity.
	ErrQueueFull = errors.New("flush queue full")

	// ErrExecution is returned when the durable append failed after a
	// successful drain.
	ErrExecution = errors.New("flush execution failed")
)
