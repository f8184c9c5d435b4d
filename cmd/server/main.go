// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Command server runs the chatrelay gateway and flush pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripmesh/chatrelay/internal/api"
	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/config"
	"github.com/tripmesh/chatrelay/internal/durable"
	"github.com/tripmesh/chatrelay/internal/flush"
	"github.com/tripmesh/chatrelay/internal/gateway"
	"github.com/tripmesh/chatrelay/internal/identity"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/pipeline"
	"github.com/tripmesh/chatrelay/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("port", cfg.Server.Port).
		Int("flush_workers", cfg.Flush.Workers).
		Int("ingest_workers", cfg.Gateway.IngestWorkers).
		Msg("Starting chatrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Buffer store (Redis). Required: without it nothing is captured.
	buf, err := buffer.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.BufferTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to buffer store")
	}
	defer func() {
		if err := buf.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing buffer store")
		}
	}()
	logging.Info().Msg("Buffer store connected")

	// Durable store (Postgres). Required: flushes have nowhere else to land.
	store, err := durable.Open(cfg.Database.DSN)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open durable store")
	}
	logging.Info().Msg("Durable store ready")

	// Dead-letter store for batches that exhaust their retry budget.
	dead, err := flush.OpenDeadLetter(cfg.DeadLetter.Path, cfg.DeadLetter.Retention)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open dead-letter store")
	}
	defer func() {
		if err := dead.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dead-letter store")
		}
	}()

	// Flush pipeline: scheduler, worker pool, reconciler.
	sched := flush.NewScheduler(cfg.Flush.QueueSize)
	defer sched.Close()

	pool := flush.NewPool(sched, buf, store, dead, flush.PoolConfig{
		Workers:          cfg.Flush.Workers,
		MaxRetries:       cfg.Flush.MaxRetries,
		RetryBackoff:     cfg.Flush.RetryBackoff,
		BreakerThreshold: cfg.Flush.BreakerThreshold,
		BreakerTimeout:   cfg.Flush.BreakerTimeout,
	})
	reconciler := flush.NewReconciler(sched, buf, cfg.Flush.ReconcileInterval)

	// Ingestion path: gateway hub feeding the sharded ingestor.
	ingestor := pipeline.NewIngestor(buf, sched, pipeline.IngestorConfig{
		Workers:       cfg.Gateway.IngestWorkers,
		QueueSize:     cfg.Gateway.IngestQueueSize,
		AppendRetries: cfg.Gateway.AppendRetries,
		AppendBackoff: cfg.Gateway.AppendBackoff,
	})
	hub := gateway.NewHub(ingestor)

	// Connection identity. Without a secret, tokens are trusted verbatim;
	// only acceptable on isolated networks.
	var verifier identity.Verifier
	if cfg.Security.JWTSecret != "" {
		verifier = identity.NewJWTVerifier(cfg.Security.JWTSecret)
		logging.Info().Msg("JWT verification enabled")
	} else {
		verifier = identity.AnonymousVerifier{}
		logging.Warn().Msg("JWT_SECRET not set, accepting unverified identities")
	}

	handler := api.NewHandler(hub, verifier, buf, dead, cfg)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddGatewayService(hub)
	tree.AddGatewayService(ingestor)
	tree.AddFlushService(pool)
	tree.AddFlushService(reconciler)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Stopped gracefully")
}
