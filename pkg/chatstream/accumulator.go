// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatstream

import (
	"strings"
	"time"
)

// TurnPhase is the per-turn state of a session.
//
//	PhaseIdle → PhaseAwaiting → PhaseStreaming → PhaseFinalizing → PhaseIdle
type TurnPhase int

const (
	// PhaseIdle means no turn is in flight.
	PhaseIdle TurnPhase = iota

	// PhaseAwaiting means a query was sent and nothing came back yet.
	PhaseAwaiting

	// PhaseStreaming means tokens or an artifact signal have arrived.
	PhaseStreaming

	// PhaseFinalizing is held only while a turn is being closed out.
	PhaseFinalizing
)

// String returns the phase name.
func (p TurnPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaiting:
		return "awaiting"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// turnBuffer accumulates the fragments of the in-flight answer together
// with the bookkeeping needed to close the turn out.
type turnBuffer struct {
	text         strings.Builder
	receivedData bool
	metadata     []MetadataRecord
	tokens       int
	startedAt    time.Time
	firstTokenAt time.Time

	// follow records whether the view was at the bottom on the last token.
	follow bool
}

// begin resets the buffer for a new turn started at now.
func (b *turnBuffer) begin(now time.Time) {
	b.reset()
	b.startedAt = now
}

// write appends a fragment and returns the accumulated text.
func (b *turnBuffer) write(token string, now time.Time) string {
	if b.firstTokenAt.IsZero() {
		b.firstTokenAt = now
	}
	b.text.WriteString(token)
	b.receivedData = true
	b.tokens++
	return b.text.String()
}

// stash keeps metadata until the turn finalizes.
func (b *turnBuffer) stash(records []MetadataRecord) {
	if len(records) > 0 {
		b.metadata = cloneMetadata(records)
	}
}

func (b *turnBuffer) empty() bool {
	return b.text.Len() == 0
}

func (b *turnBuffer) reset() {
	b.text.Reset()
	b.receivedData = false
	b.metadata = nil
	b.tokens = 0
	b.startedAt = time.Time{}
	b.firstTokenAt = time.Time{}
	b.follow = false
}
