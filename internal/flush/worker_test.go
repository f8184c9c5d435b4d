// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/models"
)

// stubBuffer is an in-memory buffer.Store for worker tests.
type stubBuffer struct {
	mu       sync.Mutex
	pending  map[models.RoomID][]models.Message
	drainErr error
}

func newStubBuffer() *stubBuffer {
	return &stubBuffer{pending: make(map[models.RoomID][]models.Message)}
}

func (s *stubBuffer) Append(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[msg.RoomID] = append(s.pending[msg.RoomID], msg)
	return nil
}

func (s *stubBuffer) DrainAll(ctx context.Context, roomID models.RoomID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drainErr != nil {
		return nil, s.drainErr
	}
	msgs := s.pending[roomID]
	delete(s.pending, roomID)
	return msgs, nil
}

func (s *stubBuffer) Rooms(ctx context.Context) ([]models.RoomID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]models.RoomID, 0, len(s.pending))
	for roomID := range s.pending {
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

func (s *stubBuffer) Len(ctx context.Context, roomID models.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending[roomID])), nil
}

var _ buffer.Store = (*stubBuffer)(nil)

// recordingStore captures durable appends, optionally failing the first N.
type recordingStore struct {
	mu       sync.Mutex
	batches  [][]models.DurableMessageRecord
	failures int
	calls    int
	done     chan struct{}
}

func newRecordingStore(failures int) *recordingStore {
	return &recordingStore{failures: failures, done: make(chan struct{}, 16)}
}

func (r *recordingStore) AppendBatch(ctx context.Context, roomID models.RoomID, records []models.DurableMessageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failures {
		return errors.New("durable store down")
	}
	batch := make([]models.DurableMessageRecord, len(records))
	copy(batch, records)
	r.batches = append(r.batches, batch)
	select {
	case r.done <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingStore) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recordingStore) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func startPool(t *testing.T, sched *Scheduler, buf buffer.Store, store *recordingStore, dead *DeadLetter, maxRetries int) context.CancelFunc {
	t.Helper()
	pool := NewPool(sched, buf, store, dead, PoolConfig{
		Workers:          2,
		MaxRetries:       maxRetries,
		RetryBackoff:     time.Millisecond,
		BreakerThreshold: 100,
		BreakerTimeout:   time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = pool.Serve(ctx) }()
	t.Cleanup(cancel)
	return cancel
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPool_FlushesBatchInOrder(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)
	store := newRecordingStore(0)
	startPool(t, sched, buf, store, nil, 3)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, err := models.NewMessage("trip-42", "user-1", "Ada", fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		if err := buf.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.batchCount() == 1 }, "batch never reached the durable store")

	store.mu.Lock()
	batch := store.batches[0]
	store.mu.Unlock()

	if len(batch) != 5 {
		t.Fatalf("batch size = %d, want 5", len(batch))
	}
	for i, rec := range batch {
		want := fmt.Sprintf("message %d", i)
		if rec.Text != want {
			t.Errorf("batch[%d].Text = %q, want %q", i, rec.Text, want)
		}
	}

	waitFor(t, time.Second, func() bool { return !sched.Outstanding("trip-42") },
		"job identity never released")
}

func TestPool_BurstOneBatch(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)
	store := newRecordingStore(0)

	// Append and request before the pool starts, so every request lands
	// while the first job is still queued.
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		msg, _ := models.NewMessage("trip-42", "user-1", "Ada", fmt.Sprintf("m%d", i))
		if err := buf.Append(ctx, msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := sched.RequestFlush("trip-42"); err != nil {
			t.Fatalf("RequestFlush: %v", err)
		}
	}

	startPool(t, sched, buf, store, nil, 3)

	waitFor(t, time.Second, func() bool { return store.batchCount() == 1 }, "batch never flushed")

	store.mu.Lock()
	got := len(store.batches[0])
	store.mu.Unlock()
	if got != 20 {
		t.Errorf("coalesced batch carried %d messages, want all 20", got)
	}

	// Give the pool a moment; no second batch may appear.
	time.Sleep(50 * time.Millisecond)
	if store.batchCount() != 1 {
		t.Errorf("burst produced %d batches, want 1", store.batchCount())
	}
}

func TestPool_EmptyDrainIsNoop(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)
	store := newRecordingStore(0)
	startPool(t, sched, buf, store, nil, 3)

	if err := sched.RequestFlush("trip-empty"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	waitFor(t, time.Second, func() bool { return !sched.Outstanding("trip-empty") },
		"noop job never settled")

	if store.callCount() != 0 {
		t.Errorf("empty drain reached the durable store %d times, want 0", store.callCount())
	}
}

func TestPool_RetriesDrainedBatch(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)
	store := newRecordingStore(2) // first two appends fail
	startPool(t, sched, buf, store, nil, 5)

	msg, _ := models.NewMessage("trip-42", "user-1", "Ada", "survives retries")
	if err := buf.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return store.batchCount() == 1 },
		"batch never landed after retries")

	if store.callCount() != 3 {
		t.Errorf("append attempts = %d, want 3 (two failures, one success)", store.callCount())
	}

	store.mu.Lock()
	batch := store.batches[0]
	store.mu.Unlock()
	if len(batch) != 1 || batch[0].Text != "survives retries" {
		t.Errorf("retried batch corrupted: %+v", batch)
	}
}

func TestPool_ExhaustedRetriesPark(t *testing.T) {
	buf := newStubBuffer()
	sched := NewScheduler(16)
	store := newRecordingStore(1000) // never succeeds
	dead, err := OpenDeadLetter(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("OpenDeadLetter: %v", err)
	}
	t.Cleanup(func() { _ = dead.Close() })

	startPool(t, sched, buf, store, dead, 2)

	msg, _ := models.NewMessage("trip-42", "user-1", "Ada", "doomed")
	if err := buf.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		batches, err := dead.List(context.Background())
		return err == nil && len(batches) == 1
	}, "batch never parked")

	batches, err := dead.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if batches[0].RoomID != "trip-42" {
		t.Errorf("parked batch room = %q, want trip-42", batches[0].RoomID)
	}
	if len(batches[0].Records) != 1 || batches[0].Records[0].Text != "doomed" {
		t.Errorf("parked batch records corrupted: %+v", batches[0].Records)
	}

	waitFor(t, time.Second, func() bool { return !sched.Outstanding("trip-42") },
		"terminal job never released its identity")

	// A new message for the room gets a fresh job.
	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Errorf("RequestFlush after terminal failure: %v", err)
	}
}

func TestPool_DrainErrorLeavesBufferAlone(t *testing.T) {
	buf := newStubBuffer()
	buf.drainErr = buffer.ErrUnavailable
	sched := NewScheduler(16)
	store := newRecordingStore(0)
	startPool(t, sched, buf, store, nil, 3)

	msg, _ := models.NewMessage("trip-42", "user-1", "Ada", "stuck but safe")
	if err := buf.Append(context.Background(), msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sched.RequestFlush("trip-42"); err != nil {
		t.Fatalf("RequestFlush: %v", err)
	}

	waitFor(t, time.Second, func() bool { return !sched.Outstanding("trip-42") },
		"failed-drain job never settled")

	if store.callCount() != 0 {
		t.Error("a failed drain must not reach the durable store")
	}

	buf.mu.Lock()
	pending := len(buf.pending["trip-42"])
	buf.mu.Unlock()
	if pending != 1 {
		t.Errorf("buffer lost %d messages on a failed drain", 1-pending)
	}
}
