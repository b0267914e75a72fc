// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transaction

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const transactionTracerName = "rev.transaction"

// Tracer provides OpenTelemetry tracing for transaction operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with transaction-specific span
// creation. When disabled, returns noop spans for zero overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new transaction tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transactionTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartBegin starts a span for a transaction begin operation.
func (t *Tracer) StartBegin(ctx context.Context, taskID string, method RollbackMethod) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.begin",
		trace.WithAttributes(
			attribute.String("tx.task_id", truncateForTrace(taskID, 64)),
			attribute.String("tx.rollback_method", string(method)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartCommit starts a span for a transaction commit operation.
func (t *Tracer) StartCommit(ctx context.Context) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.commit",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRollback starts a span for a transaction rollback operation.
func (t *Tracer) StartRollback(ctx context.Context, reason string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "transaction.rollback",
		trace.WithAttributes(
			attribute.String("tx.reason", truncateForTrace(reason, 128)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndWithError records err on the span and sets its status.
func (t *Tracer) EndWithError(span trace.Span, err error) {
	if !t.enabled || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// truncateForTrace bounds attribute values to keep spans small.
func truncateForTrace(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
