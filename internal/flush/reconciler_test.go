// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"testing"
	"time"

	"github.com/tripmesh/chatrelay/internal/models"
)

func TestReconciler_SchedulesStrandedRooms(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)

	msg, _ := models.NewMessage("trip-stranded", "user-1", "Ada", "left behind")
	if err := buf.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := NewReconciler(sched, buf, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Serve(ctx) }()

	waitFor(t, time.Second, func() bool { return sched.Outstanding("trip-stranded") },
		"reconciler never scheduled the stranded room")
}

func TestReconciler_SkipsRoomsWithOutstandingJobs(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)

	msg, _ := models.NewMessage("trip-42", "user-1", "Ada", "pending")
	if err := buf.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	rec := NewReconciler(sched, buf, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Serve(ctx) }()

	time.Sleep(100 * time.Millisecond)

	if got := len(sched.queue); got != 1 {
		t.Errorf("queue holds %d jobs, want 1 (no duplicate from the reconciler)", got)
	}
}

func TestReconciler_StopsOnContextCancel(t *testing.T) {
	rec := NewReconciler(NewScheduler(1), newStubBuffer(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- rec.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on cancel")
	}
}
