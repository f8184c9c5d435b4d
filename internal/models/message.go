// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package models defines the core types shared by the gateway, the buffer
// store and the flush pipeline.
package models

import (
	"errors"
	"strings"
	"time"
)

// MaxMessageBytes is the maximum accepted length of a message body in bytes.
// Larger payloads are rejected at the gateway and never enter the pipeline.
const MaxMessageBytes = 4096

// ErrInvalidMessage is returned when a client submits an empty or oversized
// message body. It is client-caused and surfaced synchronously.
var ErrInvalidMessage = errors.New("invalid message")

// RoomID identifies the real-time channel scoped to one trip.
//
// The same value keys three spaces that must never drift apart: the gateway's
// membership map, the buffer store's list key, and the flush job identity.
type RoomID string

// String returns the raw identifier.
func (r RoomID) String() string { return string(r) }

// Valid reports whether the identifier is usable as a key.
func (r RoomID) Valid() bool { return r != "" }

// Message is a single chat message as received by the gateway.
// Immutable once created. SentAt is assigned by the gateway at receipt time,
// not by the client, so ordering within one room-server pair is monotonic
// enough for buffering and durable batches.
type Message struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	RoomID     RoomID    `json:"room_id"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
}

// NewMessage validates the body and constructs a Message with a
// server-assigned timestamp.
func NewMessage(roomID RoomID, senderID, senderName, text string) (Message, error) {
	if !roomID.Valid() {
		return Message{}, ErrInvalidMessage
	}
	if strings.TrimSpace(text) == "" || len(text) > MaxMessageBytes {
		return Message{}, ErrInvalidMessage
	}
	return Message{
		SenderID:   senderID,
		SenderName: senderName,
		RoomID:     roomID,
		Text:       text,
		SentAt:     time.Now().UTC(),
	}, nil
}

// DurableMessageRecord is the persisted form of a Message: one row per
// message, keyed by room and time, append-only. This subsystem never mutates
// or deletes rows.
type DurableMessageRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RoomID     string    `gorm:"index;not null" json:"room_id"`
	SenderID   string    `gorm:"not null" json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `gorm:"not null" json:"text"`
	SentAt     time.Time `gorm:"index;not null" json:"sent_at"`
	CreatedAt  time.Time `json:"-"`
}

// TableName pins the table name independent of GORM pluralization rules.
func (DurableMessageRecord) TableName() string { return "messages" }

// Record converts a Message into its durable form.
func (m Message) Record() DurableMessageRecord {
	return DurableMessageRecord{
		RoomID:     string(m.RoomID),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Text:       m.Text,
		SentAt:     m.SentAt,
	}
}
