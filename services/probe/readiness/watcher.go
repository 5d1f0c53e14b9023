// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package readiness waits for the sidecar to announce its endpoint.
//
// The sidecar writes newline-delimited JSON to stdout. The first ready or
// error event settles the watch; process exit and the timeout settle it
// otherwise. Exactly one outcome is produced.
package readiness

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
)

const (
	// DefaultExitGrace bounds how long lines already written by an exited
	// sidecar are still read before ExitError is returned.
	DefaultExitGrace = 500 * time.Millisecond

	// maxLineBytes caps a single stdout line; longer lines are skipped.
	maxLineBytes = 1 << 20
)

// Exiter is the part of a process handle the watcher needs.
type Exiter interface {
	// Done is closed when the process has exited.
	Done() <-chan struct{}

	// ExitCode is valid once Done is closed.
	ExitCode() int
}

type options struct {
	logger    *slog.Logger
	exitGrace time.Duration
}

// Option configures Watch.
type Option func(*options)

// WithLogger logs skipped lines and the outcome at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExitGrace overrides DefaultExitGrace.
func WithExitGrace(d time.Duration) Option {
	return func(o *options) { o.exitGrace = d }
}

// Watch returns the port announced on stream.
//
// Description:
//
//	A reader goroutine splits stream into lines in arrival order and hands
//	recognised events over. Watch selects over those events, the
//	process's exit, the timeout, and ctx. After settling, the reader keeps
//	consuming stream until EOF without interpreting it, so the sidecar is
//	never blocked on a full pipe. Watch never closes stream.
//
// Inputs:
//
//	ctx - Cancellation
//	stream - The sidecar's stdout
//	proc - Exit notification; may be nil
//	timeout - Budget for the whole watch
//
// Outputs:
//
//	int - The announced port
//	error - ErrReadinessTimeout, *SidecarError, *ExitError, or ctx.Err()
//
// Thread Safety:
//
//	Call once per stream.
func Watch(ctx context.Context, stream io.Reader, proc Exiter, timeout time.Duration, opts ...Option) (int, error) {
	o := options{logger: logging.Discard(), exitGrace: DefaultExitGrace}
	for _, opt := range opts {
		opt(&o)
	}

	events := make(chan Event)
	eof := make(chan struct{})
	settled := make(chan struct{})
	defer close(settled)

	go readEvents(stream, events, eof, settled, o.logger)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var exited <-chan struct{}
	if proc != nil {
		exited = proc.Done()
	}

	for {
		select {
		case ev := <-events:
			return settle(ev, o.logger)

		case <-eof:
			// stdout closed; the exit or the timer decides.
			eof = nil

		case <-exited:
			if eof == nil {
				return 0, &ExitError{Code: proc.ExitCode()}
			}
			return afterExit(events, eof, proc, o)

		case <-timer.C:
			o.logger.Debug("readiness timed out", slog.Duration("timeout", timeout))
			return 0, ErrReadinessTimeout

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func settle(ev Event, logger *slog.Logger) (int, error) {
	if ev.Event == EventError {
		logger.Debug("sidecar error event", slog.String("message", ev.Message))
		return 0, &SidecarError{Message: ev.Message}
	}
	logger.Debug("sidecar ready", slog.Int("port", ev.Port))
	return ev.Port, nil
}

// afterExit lets lines the sidecar wrote before exiting still win, then
// reports the exit.
func afterExit(events <-chan Event, eof <-chan struct{}, proc Exiter, o options) (int, error) {
	grace := time.NewTimer(o.exitGrace)
	defer grace.Stop()

	for {
		select {
		case ev := <-events:
			return settle(ev, o.logger)
		case <-eof:
			return 0, &ExitError{Code: proc.ExitCode()}
		case <-grace.C:
			return 0, &ExitError{Code: proc.ExitCode()}
		}
	}
}

// readEvents is the single reader of stream.
func readEvents(stream io.Reader, events chan<- Event, eof chan<- struct{}, settled <-chan struct{}, logger *slog.Logger) {
	defer close(eof)

	r := bufio.NewReader(stream)
	interpreting := true
	for {
		line, err := readLine(r)
		if line != nil && interpreting {
			if ev, ok := ParseEvent(line); ok {
				select {
				case events <- ev:
				case <-settled:
					interpreting = false
				}
			} else {
				logger.Debug("skipping sidecar stdout line", slog.String("line", string(line)))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("sidecar stdout read ended", slog.String("error", err.Error()))
			}
			return
		}
		if interpreting {
			select {
			case <-settled:
				interpreting = false
			default:
			}
		}
	}
}

// readLine returns the next line without its terminator. Lines longer
// than maxLineBytes are consumed and returned as nil.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			return nil, err
		}
		if len(line) == 0 && err != nil {
			return nil, err
		}
		return line, err
	}
}
