// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"errors"
	"time"

	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
)

// Reconciler periodically sweeps the buffer store for rooms with pending
// messages and no outstanding flush job, and requests a flush for each.
//
// This is the fallback path for the case where the scheduler could not
// accept a request at send time: a room with a non-empty buffer is
// eventually reconciled instead of waiting for the idle TTL to discard it.
type Reconciler struct {
	sched    *Scheduler
	buf      buffer.Store
	interval time.Duration
}

// NewReconciler creates a reconciler sweeping at the given interval.
func NewReconciler(sched *Scheduler, buf buffer.Store, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{sched: sched, buf: buf, interval: interval}
}

// Serve runs the sweep loop until the context is canceled. Implements
// suture.Service.
func (r *Reconciler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	rooms, err := r.buf.Rooms(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("reconciler sweep failed to list rooms")
		return
	}

	var rescued int
	for _, roomID := range rooms {
		if r.sched.Outstanding(roomID) {
			continue
		}
		if err := r.sched.RequestFlush(roomID); err != nil {
			if errors.Is(err, ErrSchedulerClosed) {
				return
			}
			logging.Warn().Err(err).Str("room_id", roomID.String()).Msg("reconciler flush request failed")
			continue
		}
		rescued++
		metrics.ReconcilerRescues.Inc()
	}

	if rescued > 0 {
		logging.Info().Int("rooms", rescued).Msg("reconciler scheduled flushes for stranded buffers")
	}
}
