// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/durable"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

// PoolConfig holds worker pool settings.
type PoolConfig struct {
	// Workers is the fixed worker count. Jobs for different rooms execute
	// in parallel up to this bound; jobs for the same room are serialized
	// by the scheduler's identity invariant.
	Workers int

	// MaxRetries bounds retries of the drained batch after a durable
	// append failure.
	MaxRetries int

	// RetryBackoff is the initial interval of the exponential backoff.
	RetryBackoff time.Duration

	// BreakerThreshold is the consecutive failure count that opens the
	// circuit breaker guarding the durable store.
	BreakerThreshold uint32

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// Pool executes flush jobs with bounded concurrency.
type Pool struct {
	sched   *Scheduler
	buf     buffer.Store
	store   durable.Store
	dead    *DeadLetter // optional
	cfg     PoolConfig
	breaker *gobreaker.CircuitBreaker[any]
}

// NewPool creates a worker pool. dead may be nil; terminally failed batches
// are then only logged.
func NewPool(sched *Scheduler, buf buffer.Store, store durable.Store, dead *DeadLetter, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "durable-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Pool{
		sched:   sched,
		buf:     buf,
		store:   store,
		dead:    dead,
		cfg:     cfg,
		breaker: breaker,
	}
}

// Serve runs the worker pool until the context is canceled. Implements
// suture.Service.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.sched.jobs():
			p.execute(ctx, job)
		}
	}
}

// execute drains the room's buffer and appends the batch to the durable
// store. A job that fires after another job already drained the buffer
// completes as a no-op.
func (p *Pool) execute(ctx context.Context, job *Job) {
	p.sched.markRunning(job)

	msgs, err := p.buf.DrainAll(ctx, job.RoomID)
	if err != nil {
		// The drain is genuinely atomic, so nothing was lost; the buffer
		// still holds the entries and the reconciler will re-request a
		// flush once the store recovers.
		logging.Error().Err(err).Str("job_id", job.ID).Msg("flush drain failed")
		p.sched.finish(job, JobStateTerminal)
		metrics.FlushJobsCompleted.WithLabelValues(string(JobStateTerminal)).Inc()
		return
	}

	if len(msgs) == 0 {
		p.sched.finish(job, JobStateComplete)
		metrics.FlushJobsCompleted.WithLabelValues("noop").Inc()
		return
	}

	records := lo.Map(msgs, func(m models.Message, _ int) models.DurableMessageRecord {
		return m.Record()
	})

	if err := p.appendWithRetry(ctx, job, records); err != nil {
		p.park(ctx, job, records, err)
		return
	}

	metrics.FlushBatchSize.Observe(float64(len(records)))
	metrics.FlushJobsCompleted.WithLabelValues(string(JobStateComplete)).Inc()
	p.sched.finish(job, JobStateComplete)

	logging.Debug().
		Str("job_id", job.ID).
		Int("batch_size", len(records)).
		Msg("flush job completed")
}

// appendWithRetry re-queues the drained batch (never the original job, which
// would re-drain an already empty buffer) until it lands or the retry budget
// is exhausted. Rare worst-case timing can persist a batch twice; that is
// the documented at-least-once trade-off.
func (p *Pool) appendWithRetry(ctx context.Context, job *Job, records []models.DurableMessageRecord) error {
	op := func() error {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, p.store.AppendBatch(ctx, job.RoomID, records)
		})
		if err != nil {
			p.sched.markRetrying(job)
			metrics.FlushJobsCompleted.WithLabelValues(string(JobStateRetrying)).Inc()
			logging.Warn().
				Err(err).
				Str("job_id", job.ID).
				Int("attempt", job.Attempts).
				Msg("durable append failed, retrying drained batch")
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryBackoff
	bo.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx))
}

// park settles a job as failed-terminal. The drained batch is preserved in
// the dead-letter store for operator reconciliation, never silently
// discarded. The room's job identity is released, so a later request can
// schedule a fresh job.
func (p *Pool) park(ctx context.Context, job *Job, records []models.DurableMessageRecord, cause error) {
	if p.dead != nil {
		if err := p.dead.Park(ctx, job.RoomID, records, job.Attempts, cause.Error()); err != nil {
			logging.Error().Err(err).Str("job_id", job.ID).Msg("failed to park dead-lettered batch")
		}
	}

	metrics.DeadLetteredBatches.Inc()
	metrics.FlushJobsCompleted.WithLabelValues(string(JobStateTerminal)).Inc()
	p.sched.finish(job, JobStateTerminal)

	logging.Error().
		Err(cause).
		Str("job_id", job.ID).
		Int("batch_size", len(records)).
		Int("attempts", job.Attempts).
		Msg("flush job failed terminally, batch parked for inspection")
}
