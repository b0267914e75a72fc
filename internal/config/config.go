// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the agent configuration.
//
// Resolution order, later wins:
//
//  1. built-in defaults
//  2. "<workspace>/.rev/config.yaml" (YAML, with JSON fallback)
//  3. REV_* environment variables
//
// The merged result is validated before use.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/revlabs/rev/internal/retry"
)

// ConfigFileName is the per-workspace config file, relative to the
// workspace's .rev directory.
const ConfigFileName = "config.yaml"

// LogConfig controls logging output.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when non-empty.
	Dir string `json:"dir" yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `json:"json" yaml:"json"`

	// Quiet disables stderr output.
	Quiet bool `json:"quiet" yaml:"quiet"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CacheConfig controls the cache bundle.
type CacheConfig struct {
	// Dir overrides the snapshot directory.
	// Default: "<workspace>/.rev/cache".
	Dir string `json:"dir" yaml:"dir"`

	// WarmTier enables the badger-backed warm tier for LLM responses.
	WarmTier bool `json:"warm_tier" yaml:"warm_tier"`
}

// RetryConfig controls timeout and retry behavior.
type RetryConfig struct {
	MaxAttempts   int     `json:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	BaseBackoffMS int     `json:"base_backoff_ms" yaml:"base_backoff_ms" validate:"min=1"`
	MaxBackoffMS  int     `json:"max_backoff_ms" yaml:"max_backoff_ms" validate:"min=1"`
	Jitter        float64 `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`
}

// ToRetry converts to the retry package's config type.
func (r RetryConfig) ToRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    r.MaxAttempts,
		BaseBackoff:    time.Duration(r.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMS) * time.Millisecond,
		JitterFraction: r.Jitter,
	}
}

// TransactionConfig controls transaction observability.
type TransactionConfig struct {
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics"`
	EnableTracing bool `json:"enable_tracing" yaml:"enable_tracing"`
}

// Config is the full agent configuration.
type Config struct {
	Log         LogConfig         `json:"log" yaml:"log"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Retry       RetryConfig       `json:"retry" yaml:"retry"`
	Transaction TransactionConfig `json:"transaction" yaml:"transaction"`
}

// Default returns the built-in configuration.
func Default() Config {
	base := retry.DefaultConfig()
	return Config{
		Log: LogConfig{Level: "info"},
		Retry: RetryConfig{
			MaxAttempts:   base.MaxAttempts,
			BaseBackoffMS: int(base.BaseBackoff / time.Millisecond),
			MaxBackoffMS:  int(base.MaxBackoff / time.Millisecond),
			Jitter:        base.JitterFraction,
		},
	}
}

// Load builds the configuration for a workspace.
//
// A missing config file is not an error; a present but unparseable one
// is. Environment variables are applied last and win.
func Load(workspace string) (Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".rev", ConfigFileName)
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFile merges the config file at path into cfg, trying YAML first
// and JSON as a fallback.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parsing %s: %w", path, yamlErr)
		}
	}
	return nil
}

// applyEnv overlays REV_* environment variables onto cfg.
// Unparseable values are ignored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("REV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REV_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("REV_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v, ok := envBool("REV_CACHE_WARM_TIER"); ok {
		cfg.Cache.WarmTier = v
	}
	if v, ok := envInt("REV_RETRY_MAX_ATTEMPTS"); ok {
		cfg.Retry.MaxAttempts = v
	}
	if v, ok := envInt("REV_RETRY_BASE_BACKOFF_MS"); ok {
		cfg.Retry.BaseBackoffMS = v
	}
	if v, ok := envInt("REV_RETRY_MAX_BACKOFF_MS"); ok {
		cfg.Retry.MaxBackoffMS = v
	}
	if v := os.Getenv("REV_RETRY_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Jitter = f
		}
	}
	if v, ok := envBool("REV_TX_METRICS"); ok {
		cfg.Transaction.EnableMetrics = v
	}
	if v, ok := envBool("REV_TX_TRACING"); ok {
		cfg.Transaction.EnableTracing = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
