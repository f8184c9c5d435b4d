// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package durable provides the thin batch-append adapter over long-term
// message storage. The wider product owns this database; this subsystem only
// appends finalized records and requires that a successful return means the
// batch is durably recorded.
package durable

import (
	"context"

	"github.com/tripmesh/chatrelay/internal/models"
)

// Store is the append-only writer of finalized message records.
type Store interface {
	// AppendBatch persists the records in slice order, one row per
	// message. Insertion order within a batch is preserved.
	AppendBatch(ctx context.Context, roomID models.RoomID, records []models.DurableMessageRecord) error
}
