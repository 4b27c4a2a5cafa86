// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the terminal rendering layer for govchat: themed
// styles, the interactive chat model, and plain printers for one-shot
// commands.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Palette - deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorTealOcean   = lipgloss.Color("#157483") // light-theme accents

	ColorDeepSea  = lipgloss.Color("#104855")
	ColorMidnight = lipgloss.Color("#0D2F39")
	ColorSlate    = lipgloss.Color("#2C4A54")
	ColorMist     = lipgloss.Color("#8FA9B0")

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// =============================================================================
// Themes
// =============================================================================

// Theme selects a palette variant.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme maps a config value to a Theme. Anything unknown is dark.
func ParseTheme(s string) Theme {
	if Theme(s) == ThemeLight {
		return ThemeLight
	}
	return ThemeDark
}

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// GlamourStyle names the glamour standard style matching the theme.
func (t Theme) GlamourStyle() string {
	if t == ThemeLight {
		return "light"
	}
	return "dark"
}

// Styles is the set of lipgloss styles for one theme.
type Styles struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Citation       lipgloss.Style
	Notice         lipgloss.Style

	Header    lipgloss.Style
	StatusBar lipgloss.Style
	Toast     lipgloss.Style
	InputBox  lipgloss.Style
	HelpBox   lipgloss.Style
}

// NewStyles builds the styles for theme.
func NewStyles(theme Theme) Styles {
	accent, muted, border := ColorTealBright, ColorMist, ColorTealDeep
	if theme == ThemeLight {
		accent, muted, border = ColorTealOcean, ColorSlate, ColorTealPrimary
	}

	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Muted:     lipgloss.NewStyle().Foreground(muted),
		Success:   lipgloss.NewStyle().Foreground(accent),
		Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
		Error:     lipgloss.NewStyle().Foreground(ColorError),
		Highlight: lipgloss.NewStyle().Foreground(accent).Bold(true),

		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Citation:       lipgloss.NewStyle().Foreground(muted).Italic(true),
		Notice:         lipgloss.NewStyle().Foreground(ColorWarning).Italic(true),

		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(accent).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(border),
		StatusBar: lipgloss.NewStyle().Foreground(muted),
		Toast: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1),
		InputBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		HelpBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealPrimary).
			Padding(0, 1),
	}
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconBullet  Icon = "•"
)

// =============================================================================
// Printer
// =============================================================================

// Printer writes status lines for non-interactive commands. In plain mode
// it emits prefix-tagged text without ANSI styling, suitable for scripts.
type Printer struct {
	out    io.Writer
	err    io.Writer
	plain  bool
	styles Styles
}

// NewPrinter creates a Printer. Warnings and errors go to errOut.
func NewPrinter(out, errOut io.Writer, plain bool, theme Theme) *Printer {
	return &Printer{out: out, err: errOut, plain: plain, styles: NewStyles(theme)}
}

// Plain reports whether styling is disabled.
func (p *Printer) Plain() bool {
	return p.plain
}

// Styles returns the printer's styles.
func (p *Printer) Styles() Styles {
	return p.styles
}

// Out returns the standard output writer.
func (p *Printer) Out() io.Writer {
	return p.out
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.styles.Success.Render(string(IconSuccess)), p.styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.styles.Warning.Render(string(IconWarning)), p.styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", p.styles.Error.Render(string(IconError)), p.styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.plain {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.styles.Muted.Render("│"), text)
}

// Title prints a heading. Plain mode skips it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	fmt.Fprintln(p.out, p.styles.Title.Render(text))
}
