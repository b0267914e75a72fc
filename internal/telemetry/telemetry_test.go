// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if _, err := Init(nil, DefaultConfig()); !errors.Is(err, ErrNilContext) {
		t.Fatalf("expected ErrNilContext, got %v", err)
	}
}

func TestInit_AllDisabled(t *testing.T) {
	cfg := Config{
		ServiceName:    "test",
		TraceExporter:  "none",
		MetricExporter: "none",
	}

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporters(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown trace", Config{TraceExporter: "jaeger-classic", MetricExporter: "none"}},
		{"unknown metric", Config{TraceExporter: "none", MetricExporter: "statsd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Init(context.Background(), tt.cfg); !errors.Is(err, ErrUnknownExporter) {
				t.Fatalf("expected ErrUnknownExporter, got %v", err)
			}
		})
	}
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("REV_ENV", "staging")

	cfg := DefaultConfig()
	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %s", cfg.TraceExporter)
	}
	if cfg.Environment != "staging" {
		t.Errorf("Environment = %s", cfg.Environment)
	}
}

func TestMetricsHandler_NilWithoutPrometheus(t *testing.T) {
	if MetricsHandler() != nil {
		t.Skip("prometheus exporter was initialized by another test")
	}
}
