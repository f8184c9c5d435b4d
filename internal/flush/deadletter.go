// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package flush

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tripmesh/chatrelay/internal/logging"
	"github.com/tripmesh/chatrelay/internal/models"
)

const parkedPrefix = "parked:"

// ParkedBatch is a drained batch whose durable append exhausted its retry
// budget. Parked batches survive restarts and await operator reconciliation.
type ParkedBatch struct {
	ID       string                        `json:"id"`
	RoomID   string                        `json:"room_id"`
	Records  []models.DurableMessageRecord `json:"records"`
	Attempts int                           `json:"attempts"`
	Reason   string                        `json:"reason"`
	ParkedAt time.Time                     `json:"parked_at"`
}

// DeadLetter stores terminally failed batches in BadgerDB.
type DeadLetter struct {
	db        *badger.DB
	retention time.Duration
}

// OpenDeadLetter opens (or creates) the dead-letter database at path.
func OpenDeadLetter(path string, retention time.Duration) (*DeadLetter, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}

	logging.Info().Str("path", path).Msg("dead-letter store opened")
	return &DeadLetter{db: db, retention: retention}, nil
}

// Park persists a drained batch with a retention TTL.
func (d *DeadLetter) Park(ctx context.Context, roomID models.RoomID, records []models.DurableMessageRecord, attempts int, reason string) error {
	batch := ParkedBatch{
		ID:       uuid.New().String(),
		RoomID:   roomID.String(),
		Records:  records,
		Attempts: attempts,
		Reason:   reason,
		ParkedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(&batch)
	if err != nil {
		return fmt.Errorf("marshal parked batch: %w", err)
	}

	key := []byte(parkedPrefix + batch.ID)
	err = d.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if d.retention > 0 {
			e = e.WithTTL(d.retention)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("park batch: %w", err)
	}
	return nil
}

// List returns all parked batches.
func (d *DeadLetter) List(ctx context.Context) ([]*ParkedBatch, error) {
	var batches []*ParkedBatch

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(parkedPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var batch ParkedBatch
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &batch)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("failed to unmarshal parked batch")
				continue
			}
			batches = append(batches, &batch)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list parked batches: %w", err)
	}

	return batches, nil
}

// Resolve removes a parked batch after an operator reconciled it. Returns
// badger.ErrKeyNotFound for an unknown id.
func (d *DeadLetter) Resolve(id string) error {
	key := []byte(parkedPrefix + id)
	return d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// Close shuts down the store.
func (d *DeadLetter) Close() error {
	return d.db.Close()
}
