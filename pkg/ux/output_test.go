// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconError, IconArrow} {
		if got := icon.Render(); !strings.Contains(got, string(icon)) {
			t.Errorf("Render(%q) = %q, missing icon", icon, got)
		}
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Success("ready on 127.0.0.1:4711", "(12ms)")
	p.Failure("ReadinessTimeout", "no event within 10s")
	p.Success("bare", "")
	p.Line("4711")

	want := "OK: ready on 127.0.0.1:4711 (12ms)\n" +
		"ERROR: ReadinessTimeout: no event within 10s\n" +
		"OK: bare\n" +
		"4711\n"
	if buf.String() != want {
		t.Errorf("plain output = %q, want %q", buf.String(), want)
	}
}

func TestPrinter_Styled(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Success("ready", "(1ms)")
	p.Failure("Other", "boom")

	out := buf.String()
	for _, want := range []string{"✓", "ready", "(1ms)", "✗", "Other", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("styled output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "OK:") || strings.Contains(out, "ERROR:") {
		t.Errorf("styled output should not use plain prefixes: %q", out)
	}
}

func TestIsTerminal_Pipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	if IsTerminal(w) {
		t.Error("a pipe is not a terminal")
	}
	if NewAutoPrinter(w).styled {
		t.Error("auto printer on a pipe should be plain")
	}
}
