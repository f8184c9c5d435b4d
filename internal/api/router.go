// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package api provides the HTTP surface: the WebSocket upgrade endpoint,
// health probes, metrics and the dead-letter inspection endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripmesh/chatrelay/internal/config"
)

// Router wires handlers into a chi mux.
type Router struct {
	handler *Handler
	cfg     *config.Config
}

// NewRouter creates a router around the given handler.
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Health probes stay outside the rate limiter so orchestrator checks
	// never get throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(
			router.cfg.Security.RateLimitReqs,
			router.cfg.Security.RateLimitWindow,
		))

		r.Get("/ws", router.handler.WebSocket)
		r.Get("/rooms/{roomID}/buffer", router.handler.RoomBuffer)

		r.Route("/deadletter", func(r chi.Router) {
			r.Get("/", router.handler.DeadLetterList)
			r.Post("/{batchID}/resolve", router.handler.DeadLetterResolve)
		})
	})

	return r
}
