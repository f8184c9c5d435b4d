// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package gateway

import (
	"github.com/goccy/go-json"

	"github.com/tripmesh/chatrelay/internal/models"
)

// Frame types for client-to-server communication.
const (
	FrameTypeJoin = "join"
	FrameTypeSend = "send"
	FrameTypePing = "ping"
)

// Frame types for server-to-client communication.
const (
	FrameTypeJoined  = "joined"
	FrameTypeMessage = "message"
	FrameTypeError   = "error"
	FrameTypePong    = "pong"
)

// Error codes carried on error frames. Only client-caused conditions are
// surfaced here; pipeline failures behind the gateway never reach clients.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeNotJoined      = "not_joined"
	ErrorCodeRateLimited    = "rate_limited"
	ErrorCodeBadFrame       = "bad_frame"
)

// InboundFrame is a single frame received from a client connection.
type InboundFrame struct {
	Type   string        `json:"type"`
	RoomID models.RoomID `json:"room_id,omitempty"`
	Text   string        `json:"text,omitempty"`
}

// OutboundFrame is a single frame sent to a client connection.
type OutboundFrame struct {
	Type    string          `json:"type"`
	RoomID  models.RoomID   `json:"room_id,omitempty"`
	Message *models.Message `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// joinedFrame acknowledges a successful room join.
func joinedFrame(roomID models.RoomID) OutboundFrame {
	return OutboundFrame{Type: FrameTypeJoined, RoomID: roomID}
}

// messageFrame wraps a chat message for delivery to room members.
func messageFrame(msg models.Message) OutboundFrame {
	return OutboundFrame{Type: FrameTypeMessage, RoomID: msg.RoomID, Message: &msg}
}

// errorFrame reports a client-caused rejection back to the sender.
func errorFrame(code, detail string) OutboundFrame {
	return OutboundFrame{Type: FrameTypeError, Code: code, Detail: detail}
}

// MarshalFrame converts an outbound frame to JSON.
func MarshalFrame(f OutboundFrame) ([]byte, error) {
	return json.Marshal(f)
}
