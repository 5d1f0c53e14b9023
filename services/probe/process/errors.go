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
	"errors"
	"fmt"
)

// ErrSpawn indicates the operating system refused to start a child.
var ErrSpawn = errors.New("process spawn failed")

// SpawnError carries the role and executable that failed to start.
type SpawnError struct {
	Role string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Role, e.Path, e.Err)
}

// Unwrap returns the underlying OS error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Is reports ErrSpawn as a match.
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}
