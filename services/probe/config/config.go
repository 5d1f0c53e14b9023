// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the probe's run configuration.
//
// Values are layered: Default() < config file (YAML or TOML) < environment
// (SIDECARPROBE_*) < command-line flags. The CLI applies the last layer;
// this package owns the first three and validation.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment variables recognised by ApplyEnv.
const (
	EnvKernelPath  = "SIDECARPROBE_KERNEL_PATH"
	EnvSidecarPath = "SIDECARPROBE_SIDECAR_PATH"
	EnvTimeoutMs   = "SIDECARPROBE_TIMEOUT_MS"
	EnvBindAddress = "SIDECARPROBE_BIND_ADDR"
	EnvSessionMode = "SIDECARPROBE_SESSION_MODE"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// configValidate is shared; validator caches struct metadata per type.
var configValidate = validator.New()

// Config is the complete description of one probe run.
type Config struct {
	// KernelPath is the kernel executable, resolved through PATH at spawn.
	KernelPath string `yaml:"kernel_path" toml:"kernel_path" validate:"required"`

	// KernelArgs are placed before the descriptor and session-mode flags.
	KernelArgs []string `yaml:"kernel_args,omitempty" toml:"kernel_args"`

	// KernelEnv holds extra KEY=VALUE entries for the kernel.
	KernelEnv []string `yaml:"kernel_env,omitempty" toml:"kernel_env"`

	// KernelConnectionEnv names the variable that carries the descriptor
	// path to the kernel.
	KernelConnectionEnv string `yaml:"kernel_connection_env" toml:"kernel_connection_env" validate:"required"`

	// SidecarPath is the sidecar executable, resolved through PATH at spawn.
	SidecarPath string `yaml:"sidecar_path" toml:"sidecar_path" validate:"required"`

	// SidecarArgs are placed before the descriptor, ip, and timeout flags.
	SidecarArgs []string `yaml:"sidecar_args,omitempty" toml:"sidecar_args"`

	// SidecarEnv holds extra KEY=VALUE entries for the sidecar.
	SidecarEnv []string `yaml:"sidecar_env,omitempty" toml:"sidecar_env"`

	// BindAddress is the loopback or interface address for every port.
	BindAddress string `yaml:"bind_address" toml:"bind_address" validate:"required,ip"`

	// SessionMode is passed to the kernel verbatim.
	SessionMode string `yaml:"session_mode" toml:"session_mode" validate:"required"`

	// TimeoutMs bounds readiness and every RPC wait.
	TimeoutMs int `yaml:"timeout_ms" toml:"timeout_ms" validate:"min=1"`

	// KillGraceMs bounds how long cleanup waits for a killed process.
	KillGraceMs int `yaml:"kill_grace_ms" toml:"kill_grace_ms" validate:"min=0"`

	// LanguageID is the languageId of the synthetic document.
	LanguageID string `yaml:"language_id" toml:"language_id" validate:"required"`

	// DocumentText is the content of the synthetic document.
	DocumentText string `yaml:"document_text" toml:"document_text"`

	// SignDescriptor populates the descriptor key with random material.
	SignDescriptor bool `yaml:"sign_descriptor" toml:"sign_descriptor"`

	// KeepTemp leaves the temporary directory behind for inspection.
	KeepTemp bool `yaml:"keep_temp" toml:"keep_temp"`

	// TraceRPC mirrors every frame to stderr.
	TraceRPC bool `yaml:"trace_rpc" toml:"trace_rpc"`

	// Telemetry selects exporters.
	Telemetry Telemetry `yaml:"telemetry" toml:"telemetry"`
}

// Telemetry selects OpenTelemetry exporters for a run.
type Telemetry struct {
	TraceExporter  string `yaml:"trace_exporter" toml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" toml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	MetricsAddr    string `yaml:"metrics_addr" toml:"metrics_addr"`
}

// Default returns the development configuration: loopback binding, empty
// descriptor key, a ten second budget, and telemetry off.
func Default() Config {
	return Config{
		KernelPath:          "kernel",
		KernelConnectionEnv: "KERNEL_CONNECTION_FILE",
		SidecarPath:         "lsp-sidecar",
		BindAddress:         "127.0.0.1",
		SessionMode:         "console",
		TimeoutMs:           10000,
		KillGraceMs:         2000,
		LanguageID:          "python",
		DocumentText:        "x = 1\n",
		Telemetry: Telemetry{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Timeout returns TimeoutMs as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// KillGrace returns KillGraceMs as a duration.
func (c Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMs) * time.Millisecond
}

// ApplyEnv overlays the SIDECARPROBE_* variables found through lookup.
//
// Description:
//
//	Empty values are ignored so an exported-but-blank variable does not
//	wipe a file setting. lookup is usually os.LookupEnv.
//
// Outputs:
//
//	error - Non-nil if SIDECARPROBE_TIMEOUT_MS is not a positive integer.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvKernelPath); ok {
		c.KernelPath = v
	}
	if v, ok := get(EnvSidecarPath); ok {
		c.SidecarPath = v
	}
	if v, ok := get(EnvBindAddress); ok {
		c.BindAddress = v
	}
	if v, ok := get(EnvSessionMode); ok {
		c.SessionMode = v
	}
	if v, ok := get(EnvTimeoutMs); ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("%w: %s=%q is not a positive integer", ErrInvalidConfig, EnvTimeoutMs, v)
		}
		c.TimeoutMs = ms
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
