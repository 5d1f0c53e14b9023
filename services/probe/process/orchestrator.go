// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process spawns the kernel and sidecar children.
//
// Children get no stdin, a pipe for stdout, and a stderr that is forwarded
// line by line to the probe's own error stream with a "[role]" prefix.
// Each child leads its own process group so a forced kill takes down
// anything it started.
package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
)

// Roles used by LaunchPair.
const (
	RoleKernel  = "kernel"
	RoleSidecar = "sidecar"
)

// DefaultWaitDelay bounds how long Wait waits for output pipes once a child
// has exited, in case a grandchild still holds them.
const DefaultWaitDelay = 2 * time.Second

// =============================================================================
// SPECS
// =============================================================================

// Spec describes one child process.
type Spec struct {
	// Role names the child in logs and in the stderr prefix.
	Role string

	// Path is the executable. Names without a separator are resolved via
	// PATH when the command is built.
	Path string

	// Args excludes the program name.
	Args []string

	// Env holds KEY=VALUE entries appended to the probe's environment.
	Env []string

	// Dir is the working directory; empty means inherit.
	Dir string
}

// PairSpec carries everything needed to start kernel and sidecar together.
type PairSpec struct {
	KernelPath    string
	KernelArgs    []string
	KernelEnv     []string
	ConnectionEnv string

	SidecarPath string
	SidecarArgs []string
	SidecarEnv  []string

	DescriptorPath string
	BindAddress    string
	SessionMode    string
	Timeout        time.Duration
	Dir            string
}

// KernelSpec builds the kernel invocation:
//
//	<kernel> <args...> --connection_file <path> --session-mode <mode>
//
// with ConnectionEnv=<path> in the environment.
func KernelSpec(p PairSpec) Spec {
	args := append([]string{}, p.KernelArgs...)
	args = append(args,
		"--connection_file", p.DescriptorPath,
		"--session-mode", p.SessionMode,
	)
	env := append([]string{}, p.KernelEnv...)
	if p.ConnectionEnv != "" {
		env = append(env, p.ConnectionEnv+"="+p.DescriptorPath)
	}
	return Spec{Role: RoleKernel, Path: p.KernelPath, Args: args, Env: env, Dir: p.Dir}
}

// SidecarSpec builds the sidecar invocation:
//
//	<sidecar> <args...> --connection-file <path> --ip <addr> --timeout-ms <ms>
func SidecarSpec(p PairSpec) Spec {
	args := append([]string{}, p.SidecarArgs...)
	args = append(args,
		"--connection-file", p.DescriptorPath,
		"--ip", p.BindAddress,
		"--timeout-ms", strconv.FormatInt(p.Timeout.Milliseconds(), 10),
	)
	return Spec{
		Role: RoleSidecar,
		Path: p.SidecarPath,
		Args: args,
		Env:  append([]string{}, p.SidecarEnv...),
		Dir:  p.Dir,
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator starts children and wires their standard streams.
//
// Thread Safety:
//
//	Safe for concurrent use. Stderr lines from different children never
//	interleave within a line.
type Orchestrator struct {
	logger    *slog.Logger
	errOut    io.Writer
	errMu     sync.Mutex
	waitDelay time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithErrorWriter sets where child stderr is forwarded. Default os.Stderr.
func WithErrorWriter(w io.Writer) Option {
	return func(o *Orchestrator) { o.errOut = w }
}

// WithWaitDelay overrides DefaultWaitDelay. d <= 0 keeps the default.
func WithWaitDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.waitDelay = d
		}
	}
}

// NewOrchestrator creates an Orchestrator. A nil logger discards.
func NewOrchestrator(logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Discard()
	}
	o := &Orchestrator{
		logger:    logger,
		errOut:    os.Stderr,
		waitDelay: DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Launch starts one child.
//
// Description:
//
//	stdin is left unset so the child reads from the null device. The
//	child's stdout must be consumed by the caller (readiness watcher or
//	DrainToLog), otherwise the child eventually blocks on a full pipe.
//	No existence check is made on Path; whatever the OS reports on start
//	is returned as a SpawnError.
//
// Inputs:
//
//	ctx - Checked before starting; the child's lifetime is not bound to it
//	spec - What to run
//
// Outputs:
//
//	*Handle - The running child
//	error - *SpawnError (matches ErrSpawn) if the child could not start
func (o *Orchestrator) Launch(ctx context.Context, spec Spec) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Role: spec.Role, Path: spec.Path, Err: err}
	}
	if spec.Path == "" {
		return nil, &SpawnError{Role: spec.Role, Path: spec.Path, Err: fmt.Errorf("empty executable path")}
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = nil
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = o.waitDelay

	pr, pw := io.Pipe()
	stderr := logging.NewLineWriterShared(o.errOut, "["+spec.Role+"]", &o.errMu)
	cmd.Stdout = pw
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		o.logger.Warn("child failed to start",
			slog.String("role", spec.Role),
			slog.String("path", spec.Path),
			slog.String("error", err.Error()),
		)
		return nil, &SpawnError{Role: spec.Role, Path: spec.Path, Err: err}
	}

	h := newHandle(spec.Role, cmd, pr, pw, stderr)
	go h.wait()

	o.logger.Info("child started",
		slog.String("role", spec.Role),
		slog.String("path", cmd.Path),
		slog.Int("pid", cmd.Process.Pid),
	)
	return h, nil
}

// LaunchPair starts the kernel, then the sidecar.
//
// Description:
//
//	The kernel's stdout is drained to the debug log. The sidecar's stdout
//	is left for the readiness watcher. If the sidecar fails to start the
//	running kernel handle is still returned so cleanup can reach it.
//
// Outputs:
//
//	kernel - Non-nil whenever the kernel started
//	sidecar - Non-nil only on full success
//	err - First spawn failure
func (o *Orchestrator) LaunchPair(ctx context.Context, p PairSpec) (kernel, sidecar *Handle, err error) {
	kernel, err = o.Launch(ctx, KernelSpec(p))
	if err != nil {
		return nil, nil, err
	}
	go kernel.DrainToLog(o.logger)

	sidecar, err = o.Launch(ctx, SidecarSpec(p))
	if err != nil {
		return kernel, nil, err
	}
	return kernel, sidecar, nil
}
