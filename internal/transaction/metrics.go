// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("rev.transaction")

// Metric instruments for transaction operations.
var (
	beginTotal          metric.Int64Counter
	commitTotal         metric.Int64Counter
	rollbackTotal       metric.Int64Counter
	transactionDuration metric.Float64Histogram
	filesModified       metric.Int64Histogram
	activeGauge         metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		beginTotal, err = meter.Int64Counter(
			"transaction_begin_total",
			metric.WithDescription("Total number of transaction begin operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitTotal, err = meter.Int64Counter(
			"transaction_commit_total",
			metric.WithDescription("Total number of transaction commit operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"transaction_rollback_total",
			metric.WithDescription("Total number of transaction rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transactionDuration, err = meter.Float64Histogram(
			"transaction_duration_seconds",
			metric.WithDescription("Duration of committed transactions in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesModified, err = meter.Int64Histogram(
			"transaction_files_modified",
			metric.WithDescription("Number of files modified per transaction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeGauge, err = meter.Int64UpDownCounter(
			"transaction_active",
			metric.WithDescription("Number of currently active transactions"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBegin(ctx context.Context, method RollbackMethod) {
	if !metricsEnabled.Load() || beginTotal == nil {
		return
	}
	beginTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rollback_method", string(method)),
	))
	activeGauge.Add(ctx, 1)
}

// recordEnd decrements the active gauge however the transaction ended.
func recordEnd(ctx context.Context) {
	if !metricsEnabled.Load() || activeGauge == nil {
		return
	}
	activeGauge.Add(ctx, -1)
}

func recordCommit(ctx context.Context, duration time.Duration, files int) {
	if !metricsEnabled.Load() || commitTotal == nil {
		return
	}
	commitTotal.Add(ctx, 1)
	transactionDuration.Record(ctx, duration.Seconds())
	filesModified.Record(ctx, int64(files))
}

func recordRollback(ctx context.Context, method RollbackMethod) {
	if !metricsEnabled.Load() || rollbackTotal == nil {
		return
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rollback_method", string(method)),
	))
}
