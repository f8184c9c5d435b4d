// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"testing"
	"time"

	"github.com/tripmesh/chatrelay/internal/models"
)

func openTestDeadLetter(t *testing.T) *DeadLetter {
	t.Helper()
	dead, err := OpenDeadLetter(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("OpenDeadLetter: %v", err)
	}
	t.Cleanup(func() { _ = dead.Close() })
	return dead
}

func TestDeadLetter_ParkAndList(t *testing.T) {
	dead := openTestDeadLetter(t)
	ctx := context.Background()

	records := []models.DurableMessageRecord{
		{RoomID: "trip-42", SenderID: "user-1", Text: "first", SentAt: time.Now().UTC()},
		{RoomID: "trip-42", SenderID: "user-2", Text: "second", SentAt: time.Now().UTC()},
	}

	if err := dead.Park(ctx, "trip-42", records, 5, "durable store down"); err != nil {
		t.Fatalf("Park: %v", err)
	}

	batches, err := dead.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("List returned %d batches, want 1", len(batches))
	}

	batch := batches[0]
	if batch.RoomID != "trip-42" || batch.Attempts != 5 || batch.Reason != "durable store down" {
		t.Errorf("parked batch metadata wrong: %+v", batch)
	}
	if len(batch.Records) != 2 || batch.Records[0].Text != "first" || batch.Records[1].Text != "second" {
		t.Errorf("parked batch records wrong: %+v", batch.Records)
	}
	if batch.ID == "" {
		t.Error("parked batch should have an id")
	}
}

func TestDeadLetter_Resolve(t *testing.T) {
	dead := openTestDeadLetter(t)
	ctx := context.Background()

	if err := dead.Park(ctx, "trip-42", nil, 1, "x"); err != nil {
		t.Fatalf("Park: %v", err)
	}

	batches, err := dead.List(ctx)
	if err != nil || len(batches) != 1 {
		t.Fatalf("List: %v (%d batches)", err, len(batches))
	}

	if err := dead.Resolve(batches[0].ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	batches, err = dead.List(ctx)
	if err != nil {
		t.Fatalf("List after resolve: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("resolved batch still listed: %d remaining", len(batches))
	}
}

func TestDeadLetter_ResolveUnknown(t *testing.T) {
	dead := openTestDeadLetter(t)

	if err := dead.Resolve("no-such-batch"); err == nil {
		t.Error("resolving an unknown batch should error")
	}
}

func TestDeadLetter_ListEmpty(t *testing.T) {
	dead := openTestDeadLetter(t)

	batches, err := dead.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("fresh store listed %d batches", len(batches))
	}
}
