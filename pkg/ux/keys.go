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

import "github.com/charmbracelet/bubbles/key"

// KeyMap is the chat screen key bindings.
type KeyMap struct {
	Send          key.Binding
	Stop          key.Binding
	BuildScore    key.Binding
	AssessmentRAG key.Binding
	Theme         key.Binding
	FullScreen    key.Binding
	Help          key.Binding
	PageUp        key.Binding
	PageDown      key.Binding
	Quit          key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Stop: key.NewBinding(
			key.WithKeys("ctrl+s"),
			key.WithHelp("C-s", "stop stream"),
		),
		BuildScore: key.NewBinding(
			key.WithKeys("ctrl+b"),
			key.WithHelp("C-b", "build score"),
		),
		AssessmentRAG: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "assessment RAG"),
		),
		Theme: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "theme"),
		),
		FullScreen: key.NewBinding(
			key.WithKeys("ctrl+f"),
			key.WithHelp("C-f", "full screen"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Stop, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Stop, k.Quit},
		{k.BuildScore, k.AssessmentRAG},
		{k.PageUp, k.PageDown},
		{k.Theme, k.FullScreen, k.Help},
	}
}
