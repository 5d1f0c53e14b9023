// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package readiness

import (
	"errors"
	"fmt"
)

// Sentinel errors for the readiness handshake.
var (
	// ErrReadinessTimeout indicates no event and no exit within the budget.
	ErrReadinessTimeout = errors.New("sidecar readiness timeout")

	// ErrSidecarReported indicates the sidecar emitted an error event.
	ErrSidecarReported = errors.New("sidecar reported error")

	// ErrSidecarExited indicates the sidecar exited before any event.
	ErrSidecarExited = errors.New("sidecar exited prematurely")
)

// SidecarError carries the message from an error event.
type SidecarError struct {
	Message string
}

// Error implements the error interface.
func (e *SidecarError) Error() string {
	return fmt.Sprintf("sidecar reported error: %s", e.Message)
}

// Is reports ErrSidecarReported as a match.
func (e *SidecarError) Is(target error) bool {
	return target == ErrSidecarReported
}

// ExitError carries the exit status of a sidecar that quit early.
// Code is -1 when the sidecar was killed by a signal.
type ExitError struct {
	Code int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("sidecar exited prematurely with code %d", e.Code)
}

// Is reports ErrSidecarExited as a match.
func (e *ExitError) Is(target error) bool {
	return target == ErrSidecarExited
}
