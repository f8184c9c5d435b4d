// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package buffer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tripmesh/chatrelay/internal/metrics"
	"github.com/tripmesh/chatrelay/internal/models"
)

const (
	keyPrefix = "room:"
	keySuffix = ":buffer"
)

// drainScript atomically reads and clears a room's buffer list. LRANGE and
// DEL execute inside one EVAL, so no concurrent RPUSH can land between the
// read and the clear and be silently dropped.
var drainScript = redis.NewScript(`
local entries = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return entries
`)

// RedisStore implements Store on a Redis list per room.
//
// The store is shared across gateway and worker instances; mutual exclusion
// comes entirely from the atomicity of the drain script plus the scheduler's
// at-most-one-job-per-room invariant.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, bufferTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: bufferTTL}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used in tests.
func NewRedisStoreWithClient(client *redis.Client, bufferTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: bufferTTL}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection. Used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// bufferKey returns the key for a room's pending message list. The idle TTL
// lives on the same key.
func bufferKey(roomID models.RoomID) string {
	return keyPrefix + roomID.String() + keySuffix
}

// roomFromKey recovers the RoomID from a buffer key.
func roomFromKey(key string) (models.RoomID, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	id := key[len(keyPrefix) : len(key)-len(keySuffix)]
	return models.RoomID(id), id != ""
}

// Append appends the serialized message to the room's list and resets the
// idle TTL in a single pipeline round trip.
func (s *RedisStore) Append(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := bufferKey(msg.RoomID)

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.BufferAppendFailures.Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	metrics.BufferAppends.Inc()
	return nil
}

// DrainAll atomically reads the entire list and clears it. Draining an empty
// or expired room returns an empty slice, no error.
func (s *RedisStore) DrainAll(ctx context.Context, roomID models.RoomID) ([]models.Message, error) {
	start := time.Now()
	defer func() {
		metrics.BufferDrainDuration.Observe(time.Since(start).Seconds())
	}()

	raw, err := drainScript.Run(ctx, s.client, []string{bufferKey(roomID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msgs := make([]models.Message, 0, len(raw))
	for _, entry := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			// A malformed entry cannot be replayed; skip it rather than
			// wedge the whole room.
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// Rooms scans for rooms with a non-empty buffer.
func (s *RedisStore) Rooms(ctx context.Context) ([]models.RoomID, error) {
	var rooms []models.RoomID

	iter := s.client.Scan(ctx, 0, keyPrefix+"*"+keySuffix, 100).Iterator()
	for iter.Next(ctx) {
		if roomID, ok := roomFromKey(iter.Val()); ok {
			rooms = append(rooms, roomID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return rooms, nil
}

// Len reports the number of pending entries for a room.
func (s *RedisStore) Len(ctx context.Context, roomID models.RoomID) (int64, error) {
	n, err := s.client.LLen(ctx, bufferKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
