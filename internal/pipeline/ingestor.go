// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package pipeline carries accepted messages from the gateway into the
// buffer store and requests flushes, off the broadcast path.
package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/flush"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

// IngestorConfig sizes the worker shards and the append retry budget.
type IngestorConfig struct {
	Workers       int
	QueueSize     int
	AppendRetries int
	AppendBackoff time.Duration
}

// Ingestor moves messages into the buffer store and nudges the scheduler.
//
// Messages are sharded across workers by room so that one room's messages
// always pass through the same worker queue in submission order. The buffer
// therefore holds each room's messages in the order the gateway accepted
// them, which the flush path preserves end to end.
type Ingestor struct {
	buf    buffer.Store
	sched  *flush.Scheduler
	cfg    IngestorConfig
	queues []chan models.Message

	mu     sync.Mutex
	closed bool
}

// NewIngestor creates an ingestor with cfg.Workers shard queues.
func NewIngestor(buf buffer.Store, sched *flush.Scheduler, cfg IngestorConfig) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	queues := make([]chan models.Message, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan models.Message, cfg.QueueSize)
	}
	return &Ingestor{buf: buf, sched: sched, cfg: cfg, queues: queues}
}

// Submit hands a message to its room's shard without blocking the caller.
// A full shard queue drops the message and records the drop; the sender is
// never told, and the reconciler cannot recover what never reached the
// buffer, so queue sizing errs large.
func (i *Ingestor) Submit(msg models.Message) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		metrics.BufferAppendsDropped.Inc()
		return
	}
	queue := i.queues[i.shard(msg.RoomID)]
	i.mu.Unlock()

	select {
	case queue <- msg:
	default:
		metrics.BufferAppendsDropped.Inc()
		logging.Warn().
			Str("room_id", msg.RoomID.String()).
			Msg("ingest shard queue full, dropping message")
	}
}

func (i *Ingestor) shard(roomID models.RoomID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(i.queues)))
}

// Serve runs the shard workers until the context is canceled. Implements
// suture.Service.
func (i *Ingestor) Serve(ctx context.Context) error {
	i.mu.Lock()
	i.closed = false
	i.mu.Unlock()

	var wg sync.WaitGroup
	for n, queue := range i.queues {
		wg.Add(1)
		go func(n int, queue chan models.Message) {
			defer wg.Done()
			i.run(ctx, n, queue)
		}(n, queue)
	}
	wg.Wait()

	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	return ctx.Err()
}

func (i *Ingestor) run(ctx context.Context, shard int, queue chan models.Message) {
	logging.Debug().Int("shard", shard).Msg("ingest worker started")
	for {
		select {
		case <-ctx.Done():
			logging.Debug().Int("shard", shard).Msg("ingest worker stopped")
			return
		case msg := <-queue:
			i.ingest(ctx, msg)
		}
	}
}

// ingest appends one message with a bounded retry budget, then requests a
// flush for its room. A failed flush request is logged and left to the
// reconciler sweep; an exhausted append budget loses the message.
func (i *Ingestor) ingest(ctx context.Context, msg models.Message) {
	if err := i.appendWithRetry(ctx, msg); err != nil {
		metrics.BufferAppendsDropped.Inc()
		logging.Error().Err(err).
			Str("room_id", msg.RoomID.String()).
			Msg("buffer append retries exhausted, message lost")
		return
	}

	if err := i.sched.RequestFlush(msg.RoomID); err != nil {
		if errors.Is(err, flush.ErrSchedulerClosed) {
			return
		}
		logging.Warn().Err(err).
			Str("room_id", msg.RoomID.String()).
			Msg("flush request failed, leaving room to reconciler")
	}
}

func (i *Ingestor) appendWithRetry(ctx context.Context, msg models.Message) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = i.cfg.AppendBackoff
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(i.cfg.AppendRetries)), ctx)

	return backoff.Retry(func() error {
		if err := i.buf.Append(ctx, msg); err != nil {
			logging.Debug().Err(err).
				Str("room_id", msg.RoomID.String()).
				Msg("buffer append attempt failed")
			return err
		}
		return nil
	}, policy)
}
