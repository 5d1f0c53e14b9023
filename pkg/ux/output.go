// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders the probe's one-line verdicts for humans and machines.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright = lipgloss.Color("#2CD7C7") // highlights, success
	ColorSlate      = lipgloss.Color("#2C4A54") // muted text
	ColorError      = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
}{
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Printer writes verdict lines, styled for terminals and plain otherwise.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer on w.
func NewPrinter(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// NewAutoPrinter styles output only when f is a terminal.
func NewAutoPrinter(f *os.File) *Printer {
	return NewPrinter(f, IsTerminal(f))
}

// Success prints a success line.
//
//	styled: "✓ text detail"
//	plain:  "OK: text detail"
func (p *Printer) Success(text, detail string) {
	if !p.styled {
		fmt.Fprintf(p.w, "OK: %s\n", join(text, detail))
		return
	}
	line := IconSuccess.Render() + " " + Styles.Success.Render(text)
	if detail != "" {
		line += " " + Styles.Muted.Render(detail)
	}
	fmt.Fprintln(p.w, line)
}

// Failure prints a diagnostic line naming the failure kind.
//
//	styled: "✗ Kind → message"
//	plain:  "ERROR: Kind: message"
func (p *Printer) Failure(kind, message string) {
	if !p.styled {
		fmt.Fprintf(p.w, "ERROR: %s: %s\n", kind, message)
		return
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		IconError.Render(), Styles.Bold.Render(kind), IconArrow.Render(), Styles.Error.Render(message))
}

// Line prints text as-is.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.w, text)
}

func join(text, detail string) string {
	if detail == "" {
		return text
	}
	return text + " " + detail
}
