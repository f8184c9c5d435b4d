// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package config loads and validates the ChatRelay configuration with layered
// sources: struct defaults, optional YAML file, environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the chatrelay server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Redis      RedisConfig      `koanf:"redis"`
	Database   DatabaseConfig   `koanf:"database"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Flush      FlushConfig      `koanf:"flush"`
	DeadLetter DeadLetterConfig `koanf:"dead_letter"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// RedisConfig holds the buffer store connection settings.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string `koanf:"url" validate:"required"`

	// BufferTTL is the idle expiry applied to each room's buffer list.
	// Refreshed on every append; reclaims abandoned rooms without a flush.
	BufferTTL time.Duration `koanf:"buffer_ttl"`
}

// DatabaseConfig holds the durable store connection settings.
type DatabaseConfig struct {
	// DSN is the Postgres connection string for the durable message store.
	DSN string `koanf:"dsn"`
}

// GatewayConfig holds connection gateway settings.
type GatewayConfig struct {
	// MaxMessageBytes caps the accepted message body size.
	MaxMessageBytes int `koanf:"max_message_bytes"`

	// SendRatePerSecond limits how many messages one connection may send
	// per second. 0 disables the limiter.
	SendRatePerSecond float64 `koanf:"send_rate_per_second"`

	// SendBurst is the token bucket burst for the per-connection limiter.
	SendBurst int `koanf:"send_burst"`

	// IngestWorkers is the number of sharded ingest workers carrying
	// messages from the broadcast path into the buffer store. Sharding is
	// by room so per-room order is preserved.
	IngestWorkers int `koanf:"ingest_workers" validate:"min=1"`

	// IngestQueueSize is the per-worker queue capacity.
	IngestQueueSize int `koanf:"ingest_queue_size" validate:"min=1"`

	// AppendRetries bounds the buffer append retry budget.
	AppendRetries int `koanf:"append_retries"`

	// AppendBackoff is the initial backoff between append retries.
	AppendBackoff time.Duration `koanf:"append_backoff"`
}

// FlushConfig holds flush scheduler and worker pool settings.
type FlushConfig struct {
	// Workers is the fixed worker pool size. Jobs beyond this wait queued.
	Workers int `koanf:"workers" validate:"min=1"`

	// QueueSize is the scheduler queue capacity.
	QueueSize int `koanf:"queue_size" validate:"min=1"`

	// MaxRetries bounds retries of a failed durable append before the
	// drained batch is parked in the dead-letter store.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff for durable append retries.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// ReconcileInterval is how often the reconciler sweeps the buffer store
	// for non-empty rooms with no outstanding job.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// BreakerThreshold is the consecutive failure count that opens the
	// circuit breaker guarding the durable store.
	BreakerThreshold uint32 `koanf:"breaker_threshold"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// DeadLetterConfig holds the parked-batch store settings.
type DeadLetterConfig struct {
	// Path is the BadgerDB directory for terminally failed batches.
	Path string `koanf:"path"`

	// Retention is how long parked batches are kept for inspection.
	Retention time.Duration `koanf:"retention"`
}

// SecurityConfig holds connection-boundary settings.
type SecurityConfig struct {
	// JWTSecret verifies tokens minted by the external session service.
	JWTSecret string `koanf:"jwt_secret"`

	// CORSOrigins lists allowed origins for the HTTP surface.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs/RateLimitWindow configure HTTP request rate limiting.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:       "redis://127.0.0.1:6379/0",
			BufferTTL: time.Hour,
		},
		Database: DatabaseConfig{
			DSN: "",
		},
		Gateway: GatewayConfig{
			MaxMessageBytes:   4096,
			SendRatePerSecond: 10,
			SendBurst:         20,
			IngestWorkers:     4,
			IngestQueueSize:   1024,
			AppendRetries:     5,
			AppendBackoff:     100 * time.Millisecond,
		},
		Flush: FlushConfig{
			Workers:           4,
			QueueSize:         256,
			MaxRetries:        5,
			RetryBackoff:      200 * time.Millisecond,
			ReconcileInterval: time.Minute,
			BreakerThreshold:  5,
			BreakerTimeout:    30 * time.Second,
		},
		DeadLetter: DeadLetterConfig{
			Path:      "/data/deadletter",
			Retention: 7 * 24 * time.Hour,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if c.Redis.BufferTTL <= 0 {
		return fmt.Errorf("redis.buffer_ttl must be positive")
	}
	if c.Flush.ReconcileInterval <= 0 {
		return fmt.Errorf("flush.reconcile_interval must be positive")
	}
	if c.Gateway.MaxMessageBytes <= 0 {
		return fmt.Errorf("gateway.max_message_bytes must be positive")
	}
	return nil
}
