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
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// AppState holds the view preferences shared by the chat screens.
//
// # Description
//
// One AppState is constructed by the command that starts the UI and
// handed to every model that needs it. Nothing in this package keeps
// view preferences in package-level variables.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type AppState struct {
	mu          sync.RWMutex
	theme       Theme
	fullScreen  bool
	showHelp    bool
	interactive bool
}

// NewAppState creates an AppState. Interactive is detected from stdout.
func NewAppState(theme Theme, fullScreen bool) *AppState {
	return &AppState{
		theme:       theme,
		fullScreen:  fullScreen,
		interactive: IsTerminal(os.Stdout.Fd()),
	}
}

// IsTerminal reports whether fd is a terminal (including Cygwin/MSYS).
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Theme returns the active theme.
func (s *AppState) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// ToggleTheme flips between dark and light and returns the new theme.
func (s *AppState) ToggleTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = s.theme.Toggle()
	return s.theme
}

// FullScreen reports whether the alternate screen is in use.
func (s *AppState) FullScreen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fullScreen
}

// ToggleFullScreen flips the full-screen flag and returns the new value.
func (s *AppState) ToggleFullScreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullScreen = !s.fullScreen
	return s.fullScreen
}

// ShowHelp reports whether the help panel is open.
func (s *AppState) ShowHelp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showHelp
}

// ToggleHelp flips the help panel and returns the new value.
func (s *AppState) ToggleHelp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showHelp = !s.showHelp
	return s.showHelp
}

// Interactive reports whether stdout is a terminal.
func (s *AppState) Interactive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interactive
}

// SetInteractive overrides terminal detection.
func (s *AppState) SetInteractive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactive = v
}
