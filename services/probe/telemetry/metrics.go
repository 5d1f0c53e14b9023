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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for probe metrics.
const MeterName = "sidecarprobe"

var (
	phaseDuration   metric.Float64Histogram
	runOutcomes     metric.Int64Counter
	malformedFrames metric.Int64Counter
	processSpawns   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.Meter(MeterName)
		var err error

		phaseDuration, err = meter.Float64Histogram(
			"sidecarprobe_phase_duration_seconds",
			metric.WithDescription("Duration of each probe phase"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runOutcomes, err = meter.Int64Counter(
			"sidecarprobe_runs_total",
			metric.WithDescription("Probe runs by outcome kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		malformedFrames, err = meter.Int64Counter(
			"sidecarprobe_malformed_frames_total",
			metric.WithDescription("RPC frames discarded by the decoder"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		processSpawns, err = meter.Int64Counter(
			"sidecarprobe_process_spawns_total",
			metric.WithDescription("Child process spawn attempts"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// RecordPhase records how long a phase took and whether it failed.
func RecordPhase(ctx context.Context, phase string, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	phaseDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("success", err == nil),
	))
}

// RecordOutcome counts a finished run under its failure kind ("ok" on
// success).
func RecordOutcome(ctx context.Context, kind string) {
	if initMetrics() != nil {
		return
	}
	runOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMalformedFrames counts discarded RPC frames.
func RecordMalformedFrames(ctx context.Context, n int) {
	if initMetrics() != nil || n <= 0 {
		return
	}
	malformedFrames.Add(ctx, int64(n))
}

// RecordSpawn counts a spawn attempt for role.
func RecordSpawn(ctx context.Context, role string, success bool) {
	if initMetrics() != nil {
		return
	}
	processSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Bool("success", success),
	))
}
