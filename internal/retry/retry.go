// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retry wraps fallible operations with bounded-attempt retry.
//
// Backoff is exponential with full jitter: each wait is the capped
// exponential backoff plus a uniform random jitter in [0, backoff*jitter].
// Only transient errors (see IsTransient) are retried; everything else
// propagates immediately.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// Default configuration values, overridable via environment.
const (
	DefaultMaxAttempts    = 8
	DefaultBaseBackoffMS  = 250
	DefaultMaxBackoffMS   = 5000
	DefaultJitterFraction = 1.0
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 8
	MaxAttempts int

	// BaseBackoff is the backoff for the first retry. Subsequent retries
	// double it until MaxBackoff. Default: 250ms
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 5s
	MaxBackoff time.Duration

	// JitterFraction is the maximum jitter as a fraction of the backoff
	// (0-1). 1.0 means full jitter. Default: 1.0
	JitterFraction float64
}

// DefaultConfig returns the built-in retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		BaseBackoff:    DefaultBaseBackoffMS * time.Millisecond,
		MaxBackoff:     DefaultMaxBackoffMS * time.Millisecond,
		JitterFraction: DefaultJitterFraction,
	}
}

// ConfigFromEnv returns the defaults with REV_RETRY_* environment
// overrides applied. Unparseable values are ignored.
//
// Recognized variables:
//   - REV_RETRY_MAX_ATTEMPTS
//   - REV_RETRY_BASE_BACKOFF_MS
//   - REV_RETRY_MAX_BACKOFF_MS
//   - REV_RETRY_JITTER
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("REV_RETRY_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 1 {
			cfg.MaxAttempts = i
		}
	}
	if v := os.Getenv("REV_RETRY_BASE_BACKOFF_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.BaseBackoff = time.Duration(f * float64(time.Millisecond))
		}
	}
	if v := os.Getenv("REV_RETRY_MAX_BACKOFF_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MaxBackoff = time.Duration(f * float64(time.Millisecond))
		}
	}
	if v := os.Getenv("REV_RETRY_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.JitterFraction = f
		}
	}
	return cfg
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidConfig
	}
	if c.BaseBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff < c.BaseBackoff {
		return ErrInvalidConfig
	}
	if c.JitterFraction < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including backoff waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// Operation is a function that can be retried.
// It should return nil on success, or an error. Transient errors
// (per IsTransient) trigger a retry; anything else is fatal.
type Operation func(ctx context.Context, attempt int) error

// Manager executes operations with bounded retries and cooperative
// cancellation.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The cancellation flag is
// shared by every operation running through the same Manager.
type Manager struct {
	config      Config
	logger      *slog.Logger
	interrupted atomic.Bool
}

// NewManager creates a retry manager with the given configuration.
//
// # Inputs
//
//   - config: Retry configuration. Use DefaultConfig() or ConfigFromEnv().
//   - logger: Logger for attempt diagnostics. Uses slog.Default() if nil.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//   - error: ErrInvalidConfig if the configuration is inconsistent.
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config: config,
		logger: logger.With("component", "retry.Manager"),
	}, nil
}

// RequestInterrupt sets the cooperative cancellation flag.
//
// The flag is polled once per attempt boundary: a running attempt is not
// interrupted mid-flight, but the next attempt fails with ErrInterrupted.
// The flag is cleared when observed.
func (m *Manager) RequestInterrupt() {
	m.interrupted.Store(true)
}

// Interrupted reports whether an interrupt is pending.
func (m *Manager) Interrupted() bool {
	return m.interrupted.Load()
}

// Execute runs the operation with retry.
//
// # Description
//
// Attempts the operation up to MaxAttempts times. Before each attempt
// the cancellation flag is checked; if set, it is cleared and the call
// fails with ErrInterrupted without further attempts. A failed attempt
// is retried only when its error is transient (IsTransient); any other
// error propagates immediately. When attempts are exhausted, the last
// transient error propagates.
//
// # Inputs
//
//   - ctx: Context for cancellation during backoff waits.
//   - label: Short prefix for log lines (e.g. "llm.chat").
//   - op: The operation to execute.
//
// # Outputs
//
//   - Result: Attempt count, total duration, and last error.
//   - error: Nil on success; ErrInterrupted, the fatal error, or the
//     last transient error otherwise.
func (m *Manager) Execute(ctx context.Context, label string, op Operation) (Result, error) {
	start := time.Now()
	result := Result{}

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if m.interrupted.CompareAndSwap(true, false) {
			m.logger.Warn("operation interrupted by cancellation request",
				"label", label,
				"attempt", attempt)
			result.LastError = ErrInterrupted
			result.TotalDuration = time.Since(start)
			return result, ErrInterrupted
		}

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := op(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !IsTransient(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		if attempt == m.config.MaxAttempts {
			break
		}

		wait := m.backoffFor(attempt)
		m.logger.Warn("transient failure, backing off",
			"label", label,
			"attempt", attempt,
			"max_attempts", m.config.MaxAttempts,
			"wait", wait,
			"error", err)

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}

	m.logger.Error("retries exhausted",
		"label", label,
		"attempts", result.Attempts,
		"error", result.LastError)
	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// backoffFor computes the capped exponential backoff plus full jitter
// for the given attempt (1-based).
func (m *Manager) backoffFor(attempt int) time.Duration {
	backoff := m.config.BaseBackoff << (attempt - 1)
	if backoff > m.config.MaxBackoff || backoff <= 0 {
		backoff = m.config.MaxBackoff
	}

	if m.config.JitterFraction <= 0 {
		return backoff
	}
	jitter := time.Duration(rand.Float64() * m.config.JitterFraction * float64(backoff))
	return backoff + jitter
}
