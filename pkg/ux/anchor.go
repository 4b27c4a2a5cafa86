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
	"sync/atomic"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/charmbracelet/bubbles/viewport"
)

// ViewportAnchor bridges the controller's follow-tail questions to a
// bubbles viewport owned by the UI goroutine.
//
// The controller calls IsAtBottom and ScrollToBottom from its reader
// goroutine, so the anchor never touches the viewport directly: Record
// stores the position after each render and ScrollToBottom only raises a
// flag that Apply consumes on the next update.
type ViewportAnchor struct {
	atBottom atomic.Bool
	pending  atomic.Bool
}

// NewViewportAnchor creates an anchor that starts at the bottom.
func NewViewportAnchor() *ViewportAnchor {
	a := &ViewportAnchor{}
	a.atBottom.Store(true)
	return a
}

// IsAtBottom reports the position recorded at the last render.
func (a *ViewportAnchor) IsAtBottom() bool {
	return a.atBottom.Load()
}

// ScrollToBottom schedules a jump to the tail for the next Apply.
func (a *ViewportAnchor) ScrollToBottom() {
	a.pending.Store(true)
}

// Record stores whether vp currently shows its last line.
func (a *ViewportAnchor) Record(vp viewport.Model) {
	a.atBottom.Store(vp.AtBottom() || vp.TotalLineCount() <= vp.Height)
}

// Apply performs a scheduled scroll and reports whether one was pending.
func (a *ViewportAnchor) Apply(vp *viewport.Model) bool {
	if !a.pending.Swap(false) {
		return false
	}
	vp.GotoBottom()
	a.atBottom.Store(true)
	return true
}

var _ chatstream.ScrollAnchor = (*ViewportAnchor)(nil)
