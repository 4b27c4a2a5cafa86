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
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is a line spinner for one-shot commands that do not run a full
// bubbletea program. The chat screen uses the bubbles spinner instead.
type Spinner struct {
	out     io.Writer
	plain   bool
	styles  Styles
	message string

	mu         sync.Mutex
	running    bool
	frameIndex int
	stop       chan struct{}
	done       chan struct{}
}

// NewSpinner creates a spinner that draws on the printer's output.
func NewSpinner(p *Printer, message string) *Spinner {
	return &Spinner{
		out:     p.err,
		plain:   p.plain,
		styles:  p.styles,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. In plain mode the message is printed once.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	msg := s.message
	s.mu.Unlock()

	if s.plain {
		fmt.Fprintf(s.out, "PROGRESS: %s\n", msg)
		close(s.done)
		return
	}

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		defer close(s.done)

		for {
			select {
			case <-s.stop:
				fmt.Fprint(s.out, "\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				frame := s.styles.Highlight.Render(spinnerFrames[s.frameIndex])
				s.frameIndex = (s.frameIndex + 1) % len(spinnerFrames)
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.out, "\r%s %s", frame, msg)
			}
		}
	}()
}

// UpdateMessage changes the text while running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	if !s.plain {
		close(s.stop)
	}
	<-s.done
}
