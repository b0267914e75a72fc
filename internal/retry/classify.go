// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retry

import (
	"errors"
	"strings"
)

// Sentinel errors for the retry package.
var (
	// ErrInterrupted is returned when the cooperative cancellation flag
	// was observed at an attempt boundary. Never retried.
	ErrInterrupted = errors.New("retry: operation interrupted")

	// ErrInvalidConfig indicates an inconsistent retry configuration.
	ErrInvalidConfig = errors.New("retry: invalid configuration")
)

// transientPatterns is the vocabulary of error-message substrings that
// mark a failure as transient. Matching is case-insensitive.
var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"connection aborted",
	"timeout",
	"timed out",
	"service unavailable",
	"502",
	"503",
	"504",
}

// IsTransient reports whether the error looks like a transient
// infrastructure failure worth retrying.
//
// # Description
//
// Classification is by case-insensitive substring match of the error
// message against a fixed vocabulary (connection resets, timeouts,
// 502/503/504, service unavailable). Interrupts are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInterrupted) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
