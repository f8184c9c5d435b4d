// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package durable

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

// GormStore implements Store on a GORM database handle.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the messages table.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	if err := db.AutoMigrate(&models.DurableMessageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate durable store: %w", err)
	}

	return &GormStore{db: db}, nil
}

// NewWithDB wraps an existing GORM handle. Used in tests.
func NewWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.DurableMessageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate durable store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// AppendBatch inserts the batch in a single statement. GORM preserves slice
// order in multi-row inserts, which keeps the drained order intact.
func (s *GormStore) AppendBatch(ctx context.Context, roomID models.RoomID, records []models.DurableMessageRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.DurableAppendDuration.Observe(time.Since(start).Seconds())
	}()

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		metrics.DurableAppendErrors.Inc()
		return fmt.Errorf("append batch for room %s: %w", roomID, err)
	}
	return nil
}

// CountForRoom reports persisted rows for one room. Used in tests and by
// operator tooling; the pipeline itself never reads back.
func (s *GormStore) CountForRoom(ctx context.Context, roomID models.RoomID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.DurableMessageRecord{}).
		Where("room_id = ?", roomID.String()).
		Count(&n).Error
	return n, err
}
