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
	"fmt"
	"strings"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// Texts shown around message bodies.
const (
	thinkingText = "thinking…"
	formText     = "The assessment form is ready. Open the dashboard to complete it."
	artifactText = "An artifact is attached to this answer."
	sourcesLabel = "Sources"
)

// Renderer turns messages into terminal text.
//
// # Description
//
// Answers are rendered as markdown through glamour unless the renderer is
// plain (non-TTY output, tests), in which case text passes through
// unstyled. Rendering is a pure function of the message and the renderer
// settings.
//
// # Limitations
//
// glamour re-wraps the whole answer on every call, so very long answers
// are re-rendered for each streamed token.
type Renderer struct {
	styles Styles
	width  int
	plain  bool
	md     *glamour.TermRenderer
}

// NewRenderer creates a Renderer for theme wrapping at width columns.
// If glamour cannot be initialized the renderer falls back to raw text.
func NewRenderer(theme Theme, width int, plain bool) *Renderer {
	if width <= 0 {
		width = 80
	}
	r := &Renderer{styles: NewStyles(theme), width: width, plain: plain}
	if plain {
		return r
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(theme.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// Plain reports whether styling is disabled.
func (r *Renderer) Plain() bool {
	return r.plain
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	return r.width
}

// RenderTranscript renders msgs in order separated by blank lines.
func (r *Renderer) RenderTranscript(msgs []chatstream.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.RenderMessage(m))
	}
	return strings.Join(parts, "\n\n")
}

// RenderMessage renders one query and its answer.
func (r *Renderer) RenderMessage(m chatstream.Message) string {
	var b strings.Builder

	b.WriteString(r.label(r.styles.UserLabel, "You"))
	b.WriteString(m.Query)
	b.WriteString("\n")
	b.WriteString(r.label(r.styles.AssistantLabel, "Assistant"))

	switch {
	case m.Response == "" && m.Loading:
		b.WriteString(r.style(r.styles.Muted, thinkingText))
	case m.Response == chatstream.NoResponseText:
		b.WriteString(r.style(r.styles.Notice, m.Response))
	case m.Response != "":
		b.WriteString(r.markdown(m.Response))
	}

	if m.Error != "" {
		b.WriteString("\n")
		b.WriteString(r.style(r.styles.Error, string(IconError)+" "+m.Error))
	}
	if m.ShowForm {
		b.WriteString("\n")
		b.WriteString(r.style(r.styles.Notice, formText))
	}
	if m.ShowArtifact {
		b.WriteString("\n")
		b.WriteString(r.style(r.styles.Notice, artifactText))
	}

	if len(m.Metadata) > 0 {
		b.WriteString("\n")
		b.WriteString(r.style(r.styles.Muted, sourcesLabel+":"))
		for _, rec := range m.Metadata {
			b.WriteString("\n  ")
			b.WriteString(r.style(r.styles.Citation, string(IconBullet)+" "+FormatCitation(rec)))
		}
	}

	return b.String()
}

// FormatCitation renders a metadata record as a single line.
func FormatCitation(rec chatstream.MetadataRecord) string {
	name := rec.Name
	if name == "" {
		name = rec.Title
	}
	if name == "" {
		name = "Untitled source"
	}

	var b strings.Builder
	b.WriteString(name)
	if rec.Version != "" {
		fmt.Fprintf(&b, " (%s)", rec.Version)
	}
	if rec.Jurisdiction != "" {
		fmt.Fprintf(&b, ", %s", rec.Jurisdiction)
	}
	if rec.Link != "" {
		fmt.Fprintf(&b, " <%s>", rec.Link)
	}
	return b.String()
}

func (r *Renderer) label(style lipgloss.Style, name string) string {
	if r.plain {
		return name + ": "
	}
	return style.Render(name+":") + " "
}

func (r *Renderer) style(style lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return style.Render(text)
}

func (r *Renderer) markdown(text string) string {
	if r.plain || r.md == nil {
		return text
	}
	out, err := r.md.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
