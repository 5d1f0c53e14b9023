// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sidecarprobe launches a kernel and its LSP sidecar, waits for the
// sidecar to announce its language server, and runs a minimal LSP
// conversation against it.
//
// Exit status is 0 when the language server answered the full handshake and
// 1 otherwise. The success line goes to stdout; diagnostics go to stderr.
package main

import (
	"errors"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCmd(newCLI(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			printerFor(os.Stderr).Failure("Usage", err.Error())
		}
		os.Exit(1)
	}
}
