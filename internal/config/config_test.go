// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)

	req.Equal(8480, cfg.Server.Port)
	req.Equal(time.Hour, cfg.Redis.BufferTTL)
	req.Equal(4, cfg.Flush.Workers)
	req.Equal(4096, cfg.Gateway.MaxMessageBytes)
	req.Equal(time.Minute, cfg.Flush.ReconcileInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REDIS_URL", "redis://redis.internal:6379/1")
	t.Setenv("FLUSH_WORKERS", "8")
	t.Setenv("LOG_LEVEL", "debug")
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)

	req.Equal(9000, cfg.Server.Port)
	req.Equal("redis://redis.internal:6379/1", cfg.Redis.URL)
	req.Equal(8, cfg.Flush.Workers)
	req.Equal("debug", cfg.Logging.Level)
}

func TestUnmappedEnvIgnored(t *testing.T) {
	t.Setenv("PATH_LIKE_NOISE", "should-not-leak")

	_, err := Load()
	require.NoError(t, err)
}

func TestCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://app.tripmesh.io, https://admin.tripmesh.io")
	req := require.New(t)

	cfg, err := Load()
	req.NoError(err)

	req.Len(cfg.Security.CORSOrigins, 2)
	req.Equal("https://app.tripmesh.io", cfg.Security.CORSOrigins[0])
	req.Equal("https://admin.tripmesh.io", cfg.Security.CORSOrigins[1])
}

func TestConfigFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 8999\nflush:\n  workers: 2\n")
	req.NoError(os.WriteFile(path, content, 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	req.NoError(err)

	req.Equal(8999, cfg.Server.Port)
	req.Equal(2, cfg.Flush.Workers)
	// Untouched settings keep their defaults.
	req.Equal(time.Hour, cfg.Redis.BufferTTL)
}

func TestEnvBeatsFile(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	req.NoError(os.WriteFile(path, []byte("server:\n  port: 8999\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	req.NoError(err)
	req.Equal(9100, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buffer ttl", func(c *Config) { c.Redis.BufferTTL = 0 }},
		{"zero reconcile interval", func(c *Config) { c.Flush.ReconcileInterval = 0 }},
		{"zero max message bytes", func(c *Config) { c.Gateway.MaxMessageBytes = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero workers", func(c *Config) { c.Flush.Workers = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, defaultConfig().Validate())
}
