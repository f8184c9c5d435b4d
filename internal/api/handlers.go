// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tripmesh/chatrelay/internal/buffer"
	"github.com/tripmesh/chatrelay/internal/config"
	"github.com/tripmesh/chatrelay/internal/flush"
	"github.com/tripmesh/chatrelay/internal/gateway"
	"github.com/tripmesh/chatrelay/internal/identity"
	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/models"
)

// Handler serves the HTTP endpoints.
type Handler struct {
	hub      *gateway.Hub
	verifier identity.Verifier
	buf      buffer.Store
	dead     *flush.DeadLetter
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewHandler wires the HTTP handlers to their backing components.
func NewHandler(hub *gateway.Hub, verifier identity.Verifier, buf buffer.Store, dead *flush.DeadLetter, cfg *config.Config) *Handler {
	allowAll := len(cfg.Security.CORSOrigins) == 1 && cfg.Security.CORSOrigins[0] == "*"
	return &Handler{
		hub:      hub,
		verifier: verifier,
		buf:      buf,
		dead:     dead,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.Security.CORSOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": code, "message": message})
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the buffer store must be reachable, since
// without it the gateway can broadcast but nothing is durably captured.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if rs, ok := h.buf.(*buffer.RedisStore); ok {
		if err := rs.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "NOT_READY", "buffer store unreachable")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// connectionToken extracts the session token from the upgrade request.
// Browsers cannot set headers on WebSocket requests, so the token travels
// as a query parameter; a bearer header is accepted for non-browser clients.
func connectionToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// WebSocket authenticates and upgrades a connection, then hands it to the
// hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	ident, err := h.verifier.Verify(connectionToken(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing session token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	client := gateway.NewClient(h.hub, conn, ident,
		h.cfg.Gateway.SendRatePerSecond, h.cfg.Gateway.SendBurst)
	client.Start()

	logging.Debug().
		Str("user_id", ident.UserID).
		Str("remote", r.RemoteAddr).
		Msg("websocket connection established")
}

// RoomBuffer reports the pending buffer depth for a room. Operator-facing.
func (h *Handler) RoomBuffer(w http.ResponseWriter, r *http.Request) {
	roomID := models.RoomID(chi.URLParam(r, "roomID"))
	if !roomID.Valid() {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing room id")
		return
	}

	n, err := h.buf.Len(r.Context(), roomID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "BUFFER_UNAVAILABLE", "buffer store unreachable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"pending": n,
		"members": h.hub.RoomSize(roomID),
	})
}

// DeadLetterList returns all parked batches for operator inspection.
func (h *Handler) DeadLetterList(w http.ResponseWriter, r *http.Request) {
	batches, err := h.dead.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list parked batches")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(batches),
		"batches": batches,
	})
}

// DeadLetterResolve removes a parked batch after an operator has dealt with
// it out of band.
func (h *Handler) DeadLetterResolve(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if batchID == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing batch id")
		return
	}

	if err := h.dead.Resolve(batchID); err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "no parked batch with that id")
		return
	}

	logging.Info().Str("batch_id", batchID).Msg("parked batch resolved")
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
