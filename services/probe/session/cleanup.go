// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/sidecarprobe/services/probe/process"
	"golang.org/x/sync/errgroup"
)

// Close releases every resource the session acquired.
//
// Description:
//
//	Runs once; later calls return the first result. Order: the RPC client,
//	then both processes at the same time (process group SIGKILL, then up
//	to KillGrace for each to be reaped), then the temporary directory
//	unless KeepTemp is set. Resources that were never acquired are
//	skipped. Failures are collected rather than stopping the teardown.
//
// Outputs:
//
//	error - errors.Join of every failure, or nil
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.release()
		if s.closeErr != nil {
			s.logger.Warn("release failed", slog.String("error", s.closeErr.Error()))
		}
	})
	return s.closeErr
}

func (s *Session) release() error {
	s.mu.Lock()
	client, kernel, sidecar, dir := s.client, s.kernel, s.sidecar, s.tempDir
	s.mu.Unlock()

	var errs []error

	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rpc client: %w", err))
		}
	}

	grace := s.cfg.KillGrace()
	if grace <= 0 {
		grace = process.DefaultWaitDelay
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	handles := []*process.Handle{kernel, sidecar}
	killErrs := make([]error, len(handles))
	var g errgroup.Group
	for i, h := range handles {
		if h == nil {
			continue
		}
		g.Go(func() error {
			if err := h.Kill(ctx); err != nil {
				killErrs[i] = fmt.Errorf("stop %s (pid %d): %w", h.Role(), h.PID(), err)
				return killErrs[i]
			}
			s.logger.Debug("process stopped",
				slog.String("role", h.Role()),
				slog.Int("exit_code", h.ExitCode()),
			)
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, killErrs...)

	if dir != "" {
		if s.cfg.KeepTemp {
			s.logger.Info("keeping temporary directory", slog.String("path", dir))
		} else if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}

	return errors.Join(errs...)
}
