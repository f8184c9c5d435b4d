// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package gateway owns the WebSocket connection boundary: room membership,
// synchronous fan-out to room members and the hand-off of accepted messages
// into the ingestion pipeline.
package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

// Sink receives accepted messages after they have been broadcast. The hub
// never blocks on the sink and never surfaces sink failures to clients.
type Sink interface {
	Submit(msg models.Message)
}

// inboundEnvelope pairs a parsed frame with the connection it arrived on.
type inboundEnvelope struct {
	client *Client
	frame  InboundFrame
}

// Hub maintains room membership and dispatches all client frames from a
// single goroutine, so membership reads and writes never race.
type Hub struct {
	rooms map[models.RoomID]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	inbound    chan inboundEnvelope

	sink Sink
	mu   sync.RWMutex
}

// NewHub creates a hub feeding accepted messages into sink.
func NewHub(sink Sink) *Hub {
	return &Hub{
		rooms:      make(map[models.RoomID]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		inbound:    make(chan inboundEnvelope, 256),
		sink:       sink,
	}
}

// Serve runs the dispatch loop until the context is canceled. Implements
// suture.Service.
//
// Lifecycle events take priority over inbound frames so membership state is
// always settled before a frame referencing it is processed.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.disconnect(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.disconnect(client)
		case env := <-h.inbound:
			h.dispatch(env.client, env.frame)
		}
	}
}

func (h *Hub) register(client *Client) {
	metrics.ConnectionsActive.Inc()
	logging.Info().
		Str("user_id", client.identity.UserID).
		Msg("websocket client connected")
}

// disconnect removes the client from every room it joined and closes its
// send channel. Idempotent: a client already removed is a no-op.
func (h *Hub) disconnect(client *Client) {
	h.mu.Lock()
	removed := false
	for roomID, members := range h.rooms {
		if members[client] {
			delete(members, client)
			removed = true
			if len(members) == 0 {
				delete(h.rooms, roomID)
				metrics.RoomsActive.Dec()
			}
		}
	}
	h.mu.Unlock()

	if client.closeSend() {
		metrics.ConnectionsActive.Dec()
	}
	if removed {
		logging.Info().
			Str("user_id", client.identity.UserID).
			Msg("websocket client disconnected")
	}
}

// dispatch handles one inbound frame. Join and send are the only mutating
// frame types; anything else is answered with a bad_frame error.
func (h *Hub) dispatch(client *Client, frame InboundFrame) {
	switch frame.Type {
	case FrameTypeJoin:
		h.join(client, frame.RoomID)
	case FrameTypeSend:
		h.onMessage(client, frame)
	case FrameTypePing:
		client.trySend(OutboundFrame{Type: FrameTypePong})
	default:
		client.trySend(errorFrame(ErrorCodeBadFrame, "unknown frame type"))
	}
}

func (h *Hub) join(client *Client, roomID models.RoomID) {
	if !roomID.Valid() {
		client.trySend(errorFrame(ErrorCodeInvalidMessage, "missing room_id"))
		return
	}

	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[roomID] = members
		metrics.RoomsActive.Inc()
	}
	members[client] = true
	h.mu.Unlock()

	client.trySend(joinedFrame(roomID))
	logging.Debug().
		Str("user_id", client.identity.UserID).
		Str("room_id", roomID.String()).
		Msg("client joined room")
}

// onMessage validates an inbound chat message, broadcasts it to the room
// synchronously and hands it to the sink. Broadcast delivery is best-effort
// per connection: a member whose send queue is full loses the message and is
// disconnected, without affecting the other members or the sender.
func (h *Hub) onMessage(client *Client, frame InboundFrame) {
	if !h.isMember(client, frame.RoomID) {
		metrics.MessagesRejected.WithLabelValues("not_joined").Inc()
		client.trySend(errorFrame(ErrorCodeNotJoined, "join the room before sending"))
		return
	}

	msg, err := models.NewMessage(frame.RoomID, client.identity.UserID, client.identity.DisplayName, frame.Text)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		client.trySend(errorFrame(ErrorCodeInvalidMessage, "message body is empty or too large"))
		return
	}

	h.broadcast(msg)
	metrics.MessagesBroadcast.Inc()

	// Hand-off to the buffer path is asynchronous and its failures are the
	// pipeline's problem, never the sender's.
	h.sink.Submit(msg)
}

// broadcast delivers a message to every member of its room in client ID
// order. Members that cannot accept the frame are dropped from the hub.
func (h *Hub) broadcast(msg models.Message) {
	frame := messageFrame(msg)

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[msg.RoomID]))
	for member := range h.rooms[msg.RoomID] {
		members = append(members, member)
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].id < members[j].id
	})

	var stalled []*Client
	for _, member := range members {
		if !member.trySend(frame) {
			stalled = append(stalled, member)
		}
	}

	for _, member := range stalled {
		logging.Warn().
			Str("user_id", member.identity.UserID).
			Str("room_id", msg.RoomID.String()).
			Msg("dropping client with stalled send queue")
		h.disconnect(member)
	}
}

func (h *Hub) isMember(client *Client, roomID models.RoomID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID][client]
}

// RoomSize returns the current member count for a room.
func (h *Hub) RoomSize(roomID models.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// shutdown closes every connected client so the supervisor can restart the
// hub without orphaned connections.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := 0
	seen := make(map[*Client]bool)
	for roomID, members := range h.rooms {
		for member := range members {
			if !seen[member] {
				seen[member] = true
				if member.closeSend() {
					closed++
					metrics.ConnectionsActive.Dec()
				}
			}
		}
		delete(h.rooms, roomID)
		metrics.RoomsActive.Dec()
	}
	h.mu.Unlock()

	logging.Info().
		Str("component", "gateway-hub").
		Str("reason", shutdownReason(ctx)).
		Int("clients_closed", closed).
		Msg("gateway hub stopped")
}

func shutdownReason(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "context_deadline"
	}
	return "context_canceled"
}
