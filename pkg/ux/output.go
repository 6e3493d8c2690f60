// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders firstboot's terminal output.
//
// Output is styled with lipgloss when the destination is a terminal and
// falls back to plain, tab-free lines otherwise so console logs and serial
// consoles stay readable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorTealBright = lipgloss.Color("#2CD7C7")
	ColorSlate      = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconRunning Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// plainLabel is the icon's word form for non-terminal output.
func (i Icon) plainLabel() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "FAIL"
	case IconRunning:
		return "RUN"
	default:
		return "--"
	}
}

// Mode selects rich or plain rendering.
type Mode int

const (
	ModePlain Mode = iota
	ModeRich
)

// DetectMode returns ModeRich when w is a terminal.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModePlain
}

// Printer writes styled lines to an io.Writer.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer for w with the mode detected from w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, mode: DetectMode(w)}
}

// NewPrinterWithMode creates a Printer with an explicit mode.
func NewPrinterWithMode(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode reports the printer's rendering mode.
func (p *Printer) Mode() Mode { return p.mode }

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) { p.line(IconSuccess, Styles.Success, text) }

// Warning prints a warning message
func (p *Printer) Warning(text string) { p.line(IconWarning, Styles.Warning, text) }

// Error prints an error message
func (p *Printer) Error(text string) { p.line(IconError, Styles.Error, text) }

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.mode == ModePlain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

func (p *Printer) line(icon Icon, style lipgloss.Style, text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s: %s\n", icon.plainLabel(), text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
}

// WarningBox prints text in a warning-styled box
func (p *Printer) WarningBox(title, content string) {
	p.box(Styles.WarningBox, Styles.Warning.Bold(true), title, content)
}

// ErrorBox prints text in an error-styled box
func (p *Printer) ErrorBox(title, content string) {
	p.box(Styles.ErrorBox, Styles.Error.Bold(true), title, content)
}

func (p *Printer) box(frame, heading lipgloss.Style, title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "== %s ==\n%s\n", title, strings.TrimRight(content, "\n"))
		return
	}
	fmt.Fprintln(p.w, frame.Width(64).Render(heading.Render(title)+"\n"+content))
}

// ProgressBar renders a simple progress bar
func (p *Printer) ProgressBar(current, total, width int) string {
	if p.mode == ModePlain || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", max(width-filled, 0)))
	return fmt.Sprintf("%s %d/%d", bar, current, total)
}
