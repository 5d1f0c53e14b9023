// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cfg := DefaultConfig()
	if cfg.ServiceName != "sidecarprobe" {
		t.Errorf("ServiceName = %q, want sidecarprobe", cfg.ServiceName)
	}
	if cfg.TraceExporter != ExporterNone {
		t.Errorf("TraceExporter = %q, want none", cfg.TraceExporter)
	}
	if cfg.MetricExporter != ExporterNone {
		t.Errorf("MetricExporter = %q, want none", cfg.MetricExporter)
	}
}

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	assert.Equal(t, ExporterOTLP, cfg.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard
	_, err := Init(nil, DefaultConfig())
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil) error = %v, want ErrNilContext", err)
	}
}

func TestInit_NoopExporter(t *testing.T) {
	cfg := Config{ServiceName: "test", TraceExporter: ExporterNone, MetricExporter: ExporterNone}

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	t.Run("trace", func(t *testing.T) {
		_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})
	t.Run("metric", func(t *testing.T) {
		_, err := Init(context.Background(), Config{MetricExporter: "statsd"})
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})
}

func TestInit_StdoutTracer(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
		TraceExporter:  ExporterStdout,
		MetricExporter: ExporterNone,
		Output:         &buf,
	}

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), TracerName, "stdout-span-check")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(span, io.ErrUnexpectedEOF)
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "stdout-span-check")
	assert.Contains(t, buf.String(), "unexpected EOF")
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := Config{ServiceName: "test", TraceExporter: ExporterNone, MetricExporter: ExporterPrometheus}

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	handler := MetricsHandler()
	require.NotNil(t, handler)

	ctx := context.Background()
	RecordOutcome(ctx, "ok")
	RecordPhase(ctx, "readiness", 40*time.Millisecond, nil)
	RecordMalformedFrames(ctx, 2)
	RecordSpawn(ctx, "kernel", true)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, body, "sidecarprobe_runs")
	assert.Contains(t, body, `kind="ok"`)
	assert.Contains(t, body, "sidecarprobe_malformed_frames")
}

func TestHelpers_NilSafe(t *testing.T) {
	RecordError(nil, io.EOF)
	SetSpanOK(nil)
	assert.Empty(t, TraceID(context.Background()))

	_, span := StartSpan(context.Background(), TracerName, "noop")
	RecordError(span, nil)
	SetSpanOK(span)
	span.End()
}
