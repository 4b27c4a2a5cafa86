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
	"errors"
	"time"
)

// User-visible texts written into Message fields.
const (
	NoResponseText            = "No response received."
	ErrTextConnectionLost     = "Connection lost."
	ErrTextClosedUnexpectedly = "Connection closed unexpectedly."
	ErrTextSocketError        = "WebSocket connection error."
	ErrTextSendFailed         = "Failed to send message. Please try again."
)

// MetadataRecord is a citation attached to an assistant answer.
// Records are copied on attach and never mutated afterwards.
type MetadataRecord struct {
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Link         string   `json:"link,omitempty" yaml:"link,omitempty"`
	Title        string   `json:"title,omitempty" yaml:"title,omitempty"`
	Organization string   `json:"organization,omitempty" yaml:"organization,omitempty"`
	ReleaseDate  string   `json:"release_date,omitempty" yaml:"release_date,omitempty"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
	Scope        string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	Status       string   `json:"status,omitempty" yaml:"status,omitempty"`
	KeyFeatures  []string `json:"key_features,omitempty" yaml:"key_features,omitempty"`
	Icon         string   `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// SubmitOptions carries the optional routing flags of a query.
type SubmitOptions struct {
	// CollectionID attaches a document collection to the query.
	CollectionID string

	// BuildScore asks the server to compute an assessment score.
	BuildScore bool

	// AssessmentRAG routes the query through the assessment retriever.
	AssessmentRAG bool
}

// Message is one user turn plus the assistant answer to it.
type Message struct {
	ID           string           `json:"id"`
	Query        string           `json:"query"`
	Response     string           `json:"response"`
	Loading      bool             `json:"loading"`
	Error        string           `json:"error,omitempty"`
	CollectionID string           `json:"collection_id,omitempty"`
	ShowForm     bool             `json:"show_form,omitempty"`
	ShowArtifact bool             `json:"show_artifact,omitempty"`
	Metadata     []MetadataRecord `json:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   time.Time        `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Metadata = cloneMetadata(m.Metadata)
	return out
}

func cloneMetadata(records []MetadataRecord) []MetadataRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]MetadataRecord, len(records))
	for i, r := range records {
		out[i] = r
		if len(r.KeyFeatures) > 0 {
			out[i].KeyFeatures = append([]string(nil), r.KeyFeatures...)
		}
	}
	return out
}

// =============================================================================
// Transcript
// =============================================================================

// ErrTurnInFlight is returned when a second loading message would be added.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// Transcript is the append-only, ordered sequence of messages of a session.
//
// Insertion order is display order. Messages are never reordered or
// deduplicated, and at most one message is loading at any time.
//
// Transcript is not safe for concurrent use; the Controller guards it.
type Transcript struct {
	messages []Message
	inFlight int // index of the loading message, -1 when none
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{inFlight: -1}
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Begin appends a new loading message.
func (t *Transcript) Begin(msg Message) error {
	if t.inFlight >= 0 {
		return ErrTurnInFlight
	}
	msg.Loading = true
	t.messages = append(t.messages, msg)
	t.inFlight = len(t.messages) - 1
	return nil
}

// AppendFinished appends already finished messages, e.g. loaded history.
func (t *Transcript) AppendFinished(msgs ...Message) {
	for _, m := range msgs {
		m = m.Clone()
		m.Loading = false
		t.messages = append(t.messages, m)
	}
}

// Current returns the loading message, or nil when no turn is in flight.
// The pointer is only valid until the next Transcript call.
func (t *Transcript) Current() *Message {
	if t.inFlight < 0 {
		return nil
	}
	return &t.messages[t.inFlight]
}

// Finish clears the loading flag of the in-flight message.
func (t *Transcript) Finish(at time.Time) {
	if cur := t.Current(); cur != nil {
		cur.Loading = false
		cur.FinishedAt = at
		t.inFlight = -1
	}
}

// Messages returns a deep copy of every message.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// LoadingCount returns how many messages are loading. It is 0 or 1.
func (t *Transcript) LoadingCount() int {
	n := 0
	for _, m := range t.messages {
		if m.Loading {
			n++
		}
	}
	return n
}
