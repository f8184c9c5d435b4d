// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package buffer implements the fast shared store holding messages that are
// not yet durably persisted. One ordered list per room, two atomic
// operations: Append and DrainAll. All mutation goes through these two
// operations; no caller ever holds an external lock on a room's buffer.
package buffer

import (
	"context"
	"errors"

	"github.com/tripmesh/chatrelay/internal/models"
)

// ErrUnavailable is returned when the underlying store cannot be reached.
// Transient: callers retry with bounded backoff. The live broadcast path is
// never affected by it.
var ErrUnavailable = errors.New("buffer store unavailable")

// Store holds pending messages per room.
type Store interface {
	// Append appends the serialized message to the room's list and resets
	// the room's idle TTL.
	Append(ctx context.Context, msg models.Message) error

	// DrainAll atomically reads the entire current list and clears it in
	// one indivisible operation. Returns the ordered entries, possibly
	// empty. Partial failure is total failure: the list is never cleared
	// without being returned.
	DrainAll(ctx context.Context, roomID models.RoomID) ([]models.Message, error)

	// Rooms returns the rooms that currently have a non-empty buffer.
	// Used by the reconciler sweep; best-effort, never used for ordering.
	Rooms(ctx context.Context) ([]models.RoomID, error)

	// Len reports the number of pending entries for a room.
	Len(ctx context.Context, roomID models.RoomID) (int64, error)
}
