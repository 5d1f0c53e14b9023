// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario drives the fixed LSP handshake that proves a sidecar
// endpoint is alive: initialize, initialized, didOpen, shutdown, exit.
package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
	"github.com/AleutianAI/sidecarprobe/services/probe/rpc"
)

var tracer = otel.Tracer("sidecarprobe.scenario")

// Step names, in the order they run.
const (
	StepInitialize  = "initialize"
	StepInitialized = "initialized"
	StepDidOpen     = "textDocument/didOpen"
	StepShutdown    = "shutdown"
	StepExit        = "exit"
)

// Correlation ids of the two requests.
const (
	InitializeID int64 = 1
	ShutdownID   int64 = 2
)

// Conn is what the driver needs from an RPC client. CallID bounds each
// response wait with the connection's own timeout.
type Conn interface {
	Send(msg any) error
	CallID(ctx context.Context, id int64, method string, params, result any) (*rpc.Message, error)
}

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("scenario step %s: %v", e.Step, e.Err)
}

// Unwrap returns the cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// StepRecord is one completed or failed step.
type StepRecord struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Transcript is what the handshake observed.
type Transcript struct {
	Steps        []StepRecord
	Server       *ServerInfo
	Capabilities ServerCapabilities
}

// Driver runs the handshake.
type Driver struct {
	// RootURI is sent as rootUri and the single workspace folder.
	RootURI string

	// Document is opened after initialized.
	Document TextDocumentItem

	// ProcessID is sent as processId; zero means this process.
	ProcessID int

	// ClientName is reported in clientInfo.
	ClientName string

	// Logger receives per-step debug lines; nil discards.
	Logger *slog.Logger
}

// SyntheticDocument builds the single document opened by the handshake.
func SyntheticDocument(rootURI, languageID, text string) TextDocumentItem {
	ext := map[string]string{
		"python": ".py",
		"r":      ".R",
		"go":     ".go",
	}[languageID]
	if ext == "" {
		ext = ".txt"
	}
	return TextDocumentItem{
		URI:        rootURI + "/untitled" + ext,
		LanguageID: languageID,
		Version:    1,
		Text:       text,
	}
}

// Run performs the five steps in order.
//
// Description:
//
//	Requests are registered with Expect before they are sent. Any step
//	failure, including an error object in a response, aborts the run
//	with a *StepError; later steps are not attempted. Nothing is retried.
//
// Inputs:
//
//	ctx - Cancellation for the whole handshake
//	conn - An open client
//
// Outputs:
//
//	*Transcript - Steps attempted so far, also on failure
//	error - *StepError
func (d Driver) Run(ctx context.Context, conn Conn) (*Transcript, error) {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tr := &Transcript{}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepInitialize, func(ctx context.Context) error {
			msg, err := conn.CallID(ctx, InitializeID, StepInitialize, d.initializeParams(), nil)
			if err != nil {
				return err
			}
			return decodeInitialize(msg, tr)
		}},
		{StepInitialized, func(context.Context) error {
			return conn.Send(rpc.Notification{JSONRPC: rpc.JSONRPCVersion, Method: StepInitialized, Params: struct{}{}})
		}},
		{StepDidOpen, func(context.Context) error {
			return conn.Send(rpc.Notification{
				JSONRPC: rpc.JSONRPCVersion,
				Method:  StepDidOpen,
				Params:  DidOpenTextDocumentParams{TextDocument: d.Document},
			})
		}},
		{StepShutdown, func(ctx context.Context) error {
			_, err := conn.CallID(ctx, ShutdownID, StepShutdown, nil, nil)
			return err
		}},
		{StepExit, func(context.Context) error {
			return conn.Send(rpc.Notification{JSONRPC: rpc.JSONRPCVersion, Method: StepExit})
		}},
	}

	for _, s := range steps {
		stepCtx, span := tracer.Start(ctx, "scenario."+s.name)
		start := time.Now()
		err := s.fn(stepCtx)
		rec := StepRecord{Name: s.name, Duration: time.Since(start), Err: err}
		tr.Steps = append(tr.Steps, rec)

		span.SetAttributes(attribute.String("lsp.method", s.name))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			logger.Debug("scenario step failed",
				slog.String("step", s.name),
				slog.Duration("duration", rec.Duration),
				slog.String("error", err.Error()),
			)
			return tr, &StepError{Step: s.name, Err: err}
		}
		span.End()
		logger.Debug("scenario step ok",
			slog.String("step", s.name),
			slog.Duration("duration", rec.Duration),
		)
	}
	return tr, nil
}

func (d Driver) initializeParams() InitializeParams {
	pid := d.ProcessID
	if pid == 0 {
		pid = os.Getpid()
	}
	name := d.ClientName
	if name == "" {
		name = "sidecarprobe"
	}
	p := InitializeParams{
		ProcessID:  pid,
		ClientInfo: &ClientInfo{Name: name},
		RootURI:    d.RootURI,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
			},
			Workspace: WorkspaceClientCapabilities{WorkspaceFolders: true},
		},
	}
	if d.RootURI != "" {
		p.WorkspaceFolders = []WorkspaceFolder{{URI: d.RootURI, Name: "workspace"}}
	}
	return p
}

// decodeInitialize records server info. A null result is tolerated; a
// result that is not an InitializeResult fails the step.
func decodeInitialize(msg *rpc.Message, tr *Transcript) error {
	if len(msg.Result) == 0 || string(msg.Result) == "null" {
		return nil
	}
	var result InitializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	tr.Server = result.ServerInfo
	tr.Capabilities = result.Capabilities
	return nil
}
