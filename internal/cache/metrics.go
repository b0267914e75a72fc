// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for cache metrics.
var meter = otel.Meter("rev.cache")

// Metric instruments for cache operations.
var (
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheEvictions   metric.Int64Counter
	cacheExpirations metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"cache_hits_total",
			metric.WithDescription("Total number of cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"cache_misses_total",
			metric.WithDescription("Total number of cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"cache_evictions_total",
			metric.WithDescription("Total number of LRU/size evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheExpirations, err = meter.Int64Counter(
			"cache_expirations_total",
			metric.WithDescription("Total number of TTL expirations"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func cacheAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("cache", name))
}

func recordHit(name string) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(context.Background(), 1, cacheAttr(name))
}

func recordMiss(name string) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(context.Background(), 1, cacheAttr(name))
}

func recordEviction(name string) {
	if initMetrics() != nil {
		return
	}
	cacheEvictions.Add(context.Background(), 1, cacheAttr(name))
}

func recordExpiration(name string) {
	if initMetrics() != nil {
		return
	}
	cacheExpirations.Add(context.Background(), 1, cacheAttr(name))
}
