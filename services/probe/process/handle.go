// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/AleutianAI/sidecarprobe/pkg/logging"
)

// maxLogLine bounds a single drained stdout line.
const maxLogLine = 1 << 20

// Handle is one spawned child.
//
// Description:
//
//	Owns the child's stdout pipe and its exit state. A single waiter
//	goroutine calls exec.Cmd.Wait, records the exit code, closes the stdout
//	pipe, and then closes Done. Because stdout is an io.Pipe, Wait only
//	returns after every byte the child wrote has been read, so a reader of
//	Stdout sees all output before EOF.
//
// Thread Safety:
//
//	Safe for concurrent use. ExitCode and Err are meaningful once Done is
//	closed.
type Handle struct {
	role string
	cmd  *exec.Cmd

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderr  *logging.LineWriter

	done     chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
	killErr  error
}

func newHandle(role string, cmd *exec.Cmd, r *io.PipeReader, w *io.PipeWriter, stderr *logging.LineWriter) *Handle {
	return &Handle{
		role:     role,
		cmd:      cmd,
		stdoutR:  r,
		stdoutW:  w,
		stderr:   stderr,
		done:     make(chan struct{}),
		exitCode: -1,
	}
}

// wait is the only goroutine that calls cmd.Wait.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	_ = h.stderr.Flush()
	_ = h.stdoutW.Close()

	if ps := h.cmd.ProcessState; ps != nil {
		h.exitCode = ps.ExitCode()
	}
	if _, ok := err.(*exec.ExitError); !ok {
		h.waitErr = err
	}
	close(h.done)
}

// Role returns the name the handle was launched with.
func (h *Handle) Role() string { return h.role }

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Stdout returns the child's standard output. It reaches EOF after exit.
func (h *Handle) Stdout() io.Reader { return h.stdoutR }

// Done is closed once the child has exited and its output is consumed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the exit status, or -1 while running or when the child
// was terminated by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
		return h.exitCode
	default:
		return -1
	}
}

// Err returns a Wait failure that is not a plain non-zero exit.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Kill force-terminates the child's process group and waits for exit.
//
// Description:
//
//	Sends SIGKILL once, then closes the stdout pipe so a reader that is
//	no longer draining cannot hold up Wait. Blocks until Done or ctx.
//	Calling Kill on an exited child is a no-op.
//
// Outputs:
//
//	error - Non-nil if the signal failed or ctx expired before exit
func (h *Handle) Kill(ctx context.Context) error {
	h.killOnce.Do(func() {
		select {
		case <-h.done:
			return
		default:
		}
		h.killErr = killGroup(h.cmd.Process)
		_ = h.stdoutR.CloseWithError(io.EOF)
	})
	if h.killErr != nil {
		return fmt.Errorf("kill %s: %w", h.role, h.killErr)
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("kill %s: waiting for exit: %w", h.role, ctx.Err())
	}
}

// DrainToLog reads stdout line by line and logs each line at debug level
// until EOF. It is meant to be run in its own goroutine for a child whose
// stdout carries no protocol.
func (h *Handle) DrainToLog(logger *slog.Logger) {
	sc := bufio.NewScanner(h.stdoutR)
	sc.Buffer(make([]byte, 0, 4096), maxLogLine)
	for sc.Scan() {
		logger.Debug("child stdout",
			slog.String("role", h.role),
			slog.String("line", sc.Text()),
		)
	}
	// An oversized line stops the scanner; keep the pipe moving.
	_, _ = io.Copy(io.Discard, h.stdoutR)
}
