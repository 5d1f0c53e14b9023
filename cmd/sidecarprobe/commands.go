// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
	"github.com/AleutianAI/sidecarprobe/pkg/ux"
	"github.com/AleutianAI/sidecarprobe/services/probe/config"
	"github.com/AleutianAI/sidecarprobe/services/probe/descriptor"
	"github.com/AleutianAI/sidecarprobe/services/probe/netport"
	"github.com/AleutianAI/sidecarprobe/services/probe/session"
	"github.com/AleutianAI/sidecarprobe/services/probe/telemetry"
)

// errReported means the failure line was already printed.
var errReported = errors.New("failure reported")

// cli holds flag values and the streams commands write to.
type cli struct {
	out       io.Writer
	errOut    io.Writer
	lookupEnv func(string) (string, bool)

	configPath string
	logLevel   string
	logFormat  string
	logDir     string

	kernel      string
	sidecar     string
	bind        string
	sessionMode string
	language    string
	metricsAddr string
	timeoutMs   int
	traceRPC    bool
	keepTemp    bool
	sign        bool
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{out: out, errOut: errOut, lookupEnv: os.LookupEnv}
}

// =============================================================================
// COMMAND TREE
// =============================================================================

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "sidecarprobe",
		Short: "Check that a kernel's LSP sidecar comes up and speaks LSP",
		Long: `sidecarprobe starts a kernel and its LSP sidecar against a freshly
written connection descriptor, waits for the sidecar to announce its
language server port, connects, and runs initialize, initialized,
didOpen, shutdown, and exit. Everything it started is torn down before
it exits.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.runProbe,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "YAML (.yaml, .yml) or TOML (.toml) config file")
	pf.StringVar(&c.logLevel, "log-level", "info", "debug, info, warn, or error")
	pf.StringVar(&c.logFormat, "log-format", "auto", "auto, text, or json (auto: json unless stderr is a terminal)")
	pf.StringVar(&c.logDir, "log-dir", "", "also write JSON logs to a dated file in this directory")
	pf.StringVar(&c.kernel, "kernel", "", "kernel executable")
	pf.StringVar(&c.sidecar, "sidecar", "", "LSP sidecar executable")
	pf.StringVar(&c.bind, "bind", "", "address every port is bound on")
	pf.IntVar(&c.timeoutMs, "timeout-ms", 0, "readiness and per-request timeout in milliseconds")
	pf.StringVar(&c.sessionMode, "session-mode", "", "session mode passed to the kernel")
	pf.StringVar(&c.language, "language", "", "languageId of the synthetic document")
	pf.StringVar(&c.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	pf.BoolVar(&c.traceRPC, "trace-rpc", false, "mirror every RPC frame to stderr")
	pf.BoolVar(&c.keepTemp, "keep-temp", false, "leave the temporary directory behind")
	pf.BoolVar(&c.sign, "sign", false, "write a random signing key into the descriptor")

	root.AddCommand(c.portsCmd(), c.descriptorCmd(), c.configCmd(), c.versionCmd())
	return root
}

func (c *cli) portsCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Allocate distinct free TCP ports and print one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.resolveConfig(cmd)
			if err != nil {
				return err
			}
			ports, err := netport.Allocate(cmd.Context(), cfg.BindAddress, count)
			if err != nil {
				return err
			}
			out := printerFor(c.out)
			for _, p := range ports {
				out.Line(strconv.Itoa(p))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", descriptor.PortCount, "number of ports")
	return cmd
}

func (c *cli) descriptorCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "descriptor",
		Short: "Write a connection descriptor with fresh ports and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.resolveConfig(cmd)
			if err != nil {
				return err
			}
			ports, err := netport.Allocate(cmd.Context(), cfg.BindAddress, descriptor.PortCount)
			if err != nil {
				return err
			}
			var opts []descriptor.Option
			if cfg.SignDescriptor {
				key, err := descriptor.GenerateKey()
				if err != nil {
					return err
				}
				opts = append(opts, descriptor.WithKey(key))
			}
			d, err := descriptor.New(cfg.BindAddress, ports, opts...)
			if err != nil {
				return err
			}
			path, err := descriptor.Write(dir, d)
			if err != nil {
				return err
			}
			printerFor(c.out).Line(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write "+descriptor.FileName+" into")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage probe configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			printerFor(c.out).Line(path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			printerFor(c.out).Line("sidecarprobe " + version)
		},
	}
}

// =============================================================================
// RUN
// =============================================================================

func (c *cli) runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := c.resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := c.newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "sidecarprobe",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		Output:         c.errOut,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.Telemetry.MetricsAddr != "" {
		ms, err := telemetry.StartMetricsServer(cfg.Telemetry.MetricsAddr, logger.Slog())
		if err != nil {
			logger.Warn("metrics server unavailable", slog.String("error", err.Error()))
		} else {
			defer func() { _ = ms.Shutdown() }()
		}
	}

	s := session.New(cfg,
		session.WithLogger(logger.Slog()),
		session.WithErrorWriter(c.errOut),
	)
	res, err := s.Run(ctx)
	if err != nil {
		printerFor(c.errOut).Failure(session.Classify(err).String(), err.Error())
		return errReported
	}

	endpoint := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(res.Port))
	printerFor(c.out).Success(
		"language server ready on "+endpoint,
		fmt.Sprintf("(session %s, %s)", res.SessionID, res.Duration.Round(time.Millisecond)),
	)
	return nil
}

// resolveConfig layers file, environment, and explicitly set flags, in
// that order, then validates.
func (c *cli) resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(c.lookupEnv); err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("kernel") {
		cfg.KernelPath = c.kernel
	}
	if f.Changed("sidecar") {
		cfg.SidecarPath = c.sidecar
	}
	if f.Changed("bind") {
		cfg.BindAddress = c.bind
	}
	if f.Changed("timeout-ms") {
		cfg.TimeoutMs = c.timeoutMs
	}
	if f.Changed("session-mode") {
		cfg.SessionMode = c.sessionMode
	}
	if f.Changed("language") {
		cfg.LanguageID = c.language
	}
	if f.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = c.metricsAddr
	}
	if f.Changed("trace-rpc") {
		cfg.TraceRPC = c.traceRPC
	}
	if f.Changed("keep-temp") {
		cfg.KeepTemp = c.keepTemp
	}
	if f.Changed("sign") {
		cfg.SignDescriptor = c.sign
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *cli) newLogger() (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return nil, err
	}

	var jsonOut bool
	switch c.logFormat {
	case "json":
		jsonOut = true
	case "text":
	case "auto", "":
		jsonOut = !isTerminal(c.errOut)
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, text, or json)", c.logFormat)
	}

	return logging.New(logging.Config{
		Level:   level,
		Service: "sidecarprobe",
		JSON:    jsonOut,
		LogDir:  c.logDir,
		Output:  c.errOut,
	}), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ux.IsTerminal(f)
}

func printerFor(w io.Writer) *ux.Printer {
	if f, ok := w.(*os.File); ok {
		return ux.NewAutoPrinter(f)
	}
	return ux.NewPrinter(w, false)
}
