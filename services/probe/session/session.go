// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session runs one end-to-end probe: kernel and sidecar up, the
// sidecar's language server reachable, and a minimal LSP conversation
// completed against it.
//
// A Session owns every resource it creates (temporary directory, both
// child processes, the socket). Run releases them on every exit path;
// Close may also be called directly and is idempotent.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
	"github.com/AleutianAI/sidecarprobe/services/probe/config"
	"github.com/AleutianAI/sidecarprobe/services/probe/descriptor"
	"github.com/AleutianAI/sidecarprobe/services/probe/netport"
	"github.com/AleutianAI/sidecarprobe/services/probe/process"
	"github.com/AleutianAI/sidecarprobe/services/probe/readiness"
	"github.com/AleutianAI/sidecarprobe/services/probe/rpc"
	"github.com/AleutianAI/sidecarprobe/services/probe/scenario"
	"github.com/AleutianAI/sidecarprobe/services/probe/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Phase names, used for spans, metrics, and log lines.
const (
	PhasePrepare   = "prepare"
	PhaseLaunch    = "launch"
	PhaseReadiness = "readiness"
	PhaseConnect   = "connect"
	PhaseScenario  = "scenario"
)

// TempDirPrefix prefixes the per-run temporary directory.
const TempDirPrefix = "sidecarprobe-"

// ClientName is reported to the language server in clientInfo.
const ClientName = "sidecarprobe"

// Result describes a successful run.
type Result struct {
	// SessionID tags every log line of the run.
	SessionID string

	// Port is the language server port the sidecar announced.
	Port int

	// Transcript holds the per-step record of the LSP conversation.
	Transcript *scenario.Transcript

	// Duration is wall time from Run to the end of the scenario.
	Duration time.Duration

	// TempDir is where the descriptor was written. It no longer exists
	// unless the run kept it.
	TempDir string
}

// Session is a single probe run.
//
// Thread Safety:
//
//	Run must be called at most once. Close is safe to call concurrently
//	with itself and after Run.
type Session struct {
	cfg    config.Config
	id     string
	logger *slog.Logger
	errOut io.Writer
	orch   *process.Orchestrator

	mu      sync.Mutex
	tempDir string
	kernel  *process.Handle
	sidecar *process.Handle
	client  *rpc.Client

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the base logger; the session id is attached to it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorWriter receives child stderr lines and the RPC trace.
// Defaults to os.Stderr.
func WithErrorWriter(w io.Writer) Option {
	return func(s *Session) {
		if w != nil {
			s.errOut = w
		}
	}
}

// New prepares a session. Nothing is started until Run.
func New(cfg config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: logging.Discard(),
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session_id", s.id))
	s.orch = process.NewOrchestrator(s.logger,
		process.WithErrorWriter(s.errOut),
		process.WithWaitDelay(s.cfg.KillGrace()),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run performs the probe.
//
// Description:
//
//	Phases run strictly in order: prepare (temporary directory, five
//	ports, descriptor), launch (kernel then sidecar), readiness (first
//	event on sidecar stdout), connect (TCP to the announced port), and
//	scenario (initialize through exit). The first failure ends the run.
//	Every resource is released before Run returns, on success as well.
//
// Inputs:
//
//	ctx - Cancels the run; cleanup still happens
//
// Outputs:
//
//	*Result - Non-nil on success
//	error - The first phase failure; see Classify
func (s *Session) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "session.Run",
		trace.WithAttributes(attribute.String("session.id", s.id)),
	)
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.Warn("cleanup incomplete", slog.String("error", cerr.Error()))
		}
		kind := Classify(err)
		telemetry.RecordOutcome(ctx, kind.String())
		if err != nil {
			telemetry.RecordError(span, err, attribute.String("kind", kind.String()))
		} else {
			telemetry.SetSpanOK(span)
		}
		span.End()
	}()

	s.logger.Info("probe starting",
		slog.String("kernel", s.cfg.KernelPath),
		slog.String("sidecar", s.cfg.SidecarPath),
		slog.String("bind", s.cfg.BindAddress),
		slog.Int("timeout_ms", s.cfg.TimeoutMs),
	)

	var descPath string
	if err := s.phase(ctx, PhasePrepare, func(ctx context.Context) error {
		descPath, err = s.prepare(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	if err := s.phase(ctx, PhaseLaunch, func(ctx context.Context) error {
		return s.launch(ctx, descPath)
	}); err != nil {
		return nil, err
	}

	var port int
	if err := s.phase(ctx, PhaseReadiness, func(ctx context.Context) error {
		port, err = readiness.Watch(ctx, s.sidecar.Stdout(), s.sidecar, s.cfg.Timeout(),
			readiness.WithLogger(s.logger),
		)
		return err
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("lsp.port", port))

	if err := s.phase(ctx, PhaseConnect, func(ctx context.Context) error {
		return s.connect(ctx, port)
	}); err != nil {
		return nil, err
	}

	var tr *scenario.Transcript
	if err := s.phase(ctx, PhaseScenario, func(ctx context.Context) error {
		tr, err = s.driver().Run(ctx, s.client)
		return err
	}); err != nil {
		return nil, err
	}

	res = &Result{
		SessionID:  s.id,
		Port:       port,
		Transcript: tr,
		Duration:   time.Since(start),
		TempDir:    s.tempDir,
	}
	s.logger.Info("probe succeeded",
		slog.Int("port", port),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// phase runs fn under its own span and records its duration.
func (s *Session) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "session."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	telemetry.RecordPhase(ctx, name, elapsed, err)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("phase failed",
			slog.String("phase", name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return err
	}
	telemetry.SetSpanOK(span)
	s.logger.Debug("phase complete",
		slog.String("phase", name),
		slog.Duration("duration", elapsed),
	)
	return nil
}

// prepare creates the temporary directory, allocates ports, and writes
// the descriptor. It returns the descriptor path.
func (s *Session) prepare(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", TempDirPrefix)
	if err != nil {
		return "", fmt.Errorf("create temporary directory: %w", err)
	}
	s.mu.Lock()
	s.tempDir = dir
	s.mu.Unlock()

	ports, err := netport.Allocate(ctx, s.cfg.BindAddress, descriptor.PortCount)
	if err != nil {
		return "", err
	}

	var opts []descriptor.Option
	if s.cfg.SignDescriptor {
		key, err := descriptor.GenerateKey()
		if err != nil {
			return "", fmt.Errorf("generate descriptor key: %w", err)
		}
		opts = append(opts, descriptor.WithKey(key))
	}

	d, err := descriptor.New(s.cfg.BindAddress, ports, opts...)
	if err != nil {
		return "", err
	}
	path, err := descriptor.Write(dir, d)
	if err != nil {
		return "", err
	}

	s.logger.Debug("descriptor written",
		slog.String("path", path),
		slog.Any("ports", ports),
		slog.Bool("signed", d.Key != ""),
	)
	return path, nil
}

// launch starts the kernel and the sidecar. Whatever started is kept for
// Close even when the other spawn fails.
func (s *Session) launch(ctx context.Context, descPath string) error {
	kernel, sidecar, err := s.orch.LaunchPair(ctx, process.PairSpec{
		KernelPath:     s.cfg.KernelPath,
		KernelArgs:     s.cfg.KernelArgs,
		KernelEnv:      s.cfg.KernelEnv,
		ConnectionEnv:  s.cfg.KernelConnectionEnv,
		SidecarPath:    s.cfg.SidecarPath,
		SidecarArgs:    s.cfg.SidecarArgs,
		SidecarEnv:     s.cfg.SidecarEnv,
		DescriptorPath: descPath,
		BindAddress:    s.cfg.BindAddress,
		SessionMode:    s.cfg.SessionMode,
		Timeout:        s.cfg.Timeout(),
		Dir:            s.tempDir,
	})

	s.mu.Lock()
	s.kernel, s.sidecar = kernel, sidecar
	s.mu.Unlock()

	telemetry.RecordSpawn(ctx, process.RoleKernel, kernel != nil)
	if kernel != nil {
		telemetry.RecordSpawn(ctx, process.RoleSidecar, sidecar != nil)
	}
	return err
}

// connect dials the announced port on the bind address.
func (s *Session) connect(ctx context.Context, port int) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout())
	defer cancel()

	opts := []rpc.Option{
		rpc.WithLogger(s.logger),
		rpc.WithTimeout(s.cfg.Timeout()),
		rpc.WithMalformedHook(func(n int) {
			telemetry.RecordMalformedFrames(ctx, n)
		}),
	}
	if s.cfg.TraceRPC {
		opts = append(opts, rpc.WithTrace(s.errOut))
	}

	client, err := rpc.Dial(dialCtx, s.cfg.BindAddress, port, opts...)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *Session) driver() scenario.Driver {
	root := (&url.URL{Scheme: "file", Path: s.tempDir}).String()
	return scenario.Driver{
		RootURI:    root,
		Document:   scenario.SyntheticDocument(root, s.cfg.LanguageID, s.cfg.DocumentText),
		ClientName: ClientName,
		Logger:     s.logger,
	}
}
