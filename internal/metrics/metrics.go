// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package metrics provides Prometheus instrumentation for every stage of the
// message pipeline: gateway broadcast, buffer append, flush scheduling,
// worker execution and dead-lettering.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Current number of connected WebSocket clients",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_rooms_active",
			Help: "Current number of rooms with at least one member",
		},
	)

	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_broadcast_total",
			Help: "Total number of messages broadcast to room members",
		},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_rejected_total",
			Help: "Total number of inbound messages rejected at the gateway",
		},
		[]string{"reason"}, // "invalid", "rate_limited", "not_joined"
	)

	// Buffer store metrics
	BufferAppends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_appends_total",
			Help: "Total number of successful buffer store appends",
		},
	)

	BufferAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_append_failures_total",
			Help: "Total number of failed buffer store append attempts",
		},
	)

	BufferAppendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "buffer_appends_dropped_total",
			Help: "Messages that exhausted the append retry budget (surfaced as an observability event, not a client error)",
		},
	)

	BufferDrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buffer_drain_duration_seconds",
			Help:    "Duration of atomic drain operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Flush pipeline metrics
	FlushJobsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flush_jobs_requested_total",
			Help: "Total number of flush requests received by the scheduler",
		},
	)

	FlushJobsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flush_jobs_coalesced_total",
			Help: "Flush requests absorbed into an already outstanding job",
		},
	)

	FlushJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flush_jobs_completed_total",
			Help: "Total number of flush jobs by completion state",
		},
		[]string{"state"}, // "completed", "noop", "failed-retrying", "failed-terminal"
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flush_batch_size_messages",
			Help:    "Number of messages per drained flush batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	DurableAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "durable_append_duration_seconds",
			Help:    "Duration of durable store batch appends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DurableAppendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durable_append_errors_total",
			Help: "Total number of durable store batch append errors",
		},
	)

	DeadLetteredBatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flush_dead_lettered_batches_total",
			Help: "Drained batches parked for operator inspection after exhausting retries",
		},
	)

	ReconcilerRescues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flush_reconciler_rescues_total",
			Help: "Flush jobs scheduled by the reconciler sweep for rooms with pending buffers and no outstanding job",
		},
	)
)
