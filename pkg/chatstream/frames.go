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
	"encoding/json"
	"fmt"
)

// =============================================================================
// Protocol Constants
// =============================================================================

const (
	// FrameTypeStatus carries control messages such as session validation.
	FrameTypeStatus = "status"

	// FrameTypePing is the server keep-alive probe.
	FrameTypePing = "ping"

	// FrameTypePong is the client keep-alive reply.
	FrameTypePong = "pong"

	// FrameTypeToken carries one fragment of assistant text.
	FrameTypeToken = "token"

	// FrameTypeDone marks the end of a turn.
	FrameTypeDone = "done"

	// StatusSessionValidated is the status message that opens the gate.
	StatusSessionValidated = "session_validated"

	// ArtifactShowForm asks the view to display the assessment artifact.
	ArtifactShowForm = "SHOW FORM"
)

// =============================================================================
// Outbound Frames
// =============================================================================

// HandshakeFrame is sent once, right after the connection opens.
type HandshakeFrame struct {
	SessionID string `json:"session_id"`
}

// PongFrame answers a server ping.
type PongFrame struct {
	Type string `json:"type"`
}

// SubmitFrame is the JSON payload for one user query.
//
// Optional flags are pointers so that unset values are omitted
// (attachment, build_score) or serialized as null (collection_id, flag),
// which is what the server expects. The "assesment_rag" spelling is part
// of the server contract.
type SubmitFrame struct {
	UserQuery     string  `json:"user_query"`
	SessionID     string  `json:"session_id"`
	AssessmentRAG bool    `json:"assesment_rag"`
	Attachment    *bool   `json:"attachment,omitempty"`
	CollectionID  *string `json:"collection_id"`
	BuildScore    *bool   `json:"build_score,omitempty"`
	Flag          *string `json:"flag"`
}

// NewSubmitFrame builds the outbound payload for a query.
//
// The query is sent as given; routing prefixes are applied by the caller.
func NewSubmitFrame(sessionID, query string, opts SubmitOptions) SubmitFrame {
	frame := SubmitFrame{
		UserQuery:     query,
		SessionID:     sessionID,
		AssessmentRAG: opts.AssessmentRAG,
	}
	if opts.CollectionID != "" {
		attached := true
		collectionID := opts.CollectionID
		frame.Attachment = &attached
		frame.CollectionID = &collectionID
	}
	if opts.BuildScore {
		buildScore := true
		frame.BuildScore = &buildScore
	}
	return frame
}

// =============================================================================
// Inbound Frames (tagged union)
// =============================================================================

// Inbound is one decoded server frame. The concrete type tells the
// controller what to do with it:
//
//	StatusFrame | PingFrame | TokenFrame | ArtifactFrame | DoneFrame | UnknownFrame
type Inbound interface {
	// Kind is a short label used for logs and metrics.
	Kind() string
	inbound()
}

// StatusFrame is a control message, e.g. "session_validated".
type StatusFrame struct {
	Message string
}

// PingFrame is a keep-alive probe that must be answered with a pong.
type PingFrame struct{}

// TokenFrame carries a fragment of the assistant response.
type TokenFrame struct {
	Token string
}

// ArtifactFrame is an out-of-band display signal.
type ArtifactFrame struct {
	Name string
}

// DoneFrame ends the turn, optionally carrying citations.
type DoneFrame struct {
	Metadata []MetadataRecord
}

// UnknownFrame is any well-formed frame the client does not understand.
type UnknownFrame struct {
	Type string
}

func (StatusFrame) Kind() string   { return FrameTypeStatus }
func (PingFrame) Kind() string     { return FrameTypePing }
func (TokenFrame) Kind() string    { return FrameTypeToken }
func (ArtifactFrame) Kind() string { return "artifact" }
func (DoneFrame) Kind() string     { return FrameTypeDone }
func (UnknownFrame) Kind() string  { return "unknown" }

func (StatusFrame) inbound()   {}
func (PingFrame) inbound()     {}
func (TokenFrame) inbound()    {}
func (ArtifactFrame) inbound() {}
func (DoneFrame) inbound()     {}
func (UnknownFrame) inbound()  {}

// envelope is the union of every field a server frame may carry.
type envelope struct {
	Type     string           `json:"type"`
	Message  string           `json:"message"`
	Token    string           `json:"token"`
	Artifact string           `json:"artifact"`
	Metadata []MetadataRecord `json:"metadata"`
}

// DecodeInbound parses one server frame.
//
// Frames without a type but with an "artifact" field decode to
// ArtifactFrame. Well-formed frames of an unrecognized type decode to
// UnknownFrame. Only malformed JSON returns an error.
func DecodeInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case FrameTypeStatus:
		return StatusFrame{Message: env.Message}, nil
	case FrameTypePing:
		return PingFrame{}, nil
	case FrameTypeToken:
		return TokenFrame{Token: env.Token}, nil
	case FrameTypeDone:
		return DoneFrame{Metadata: env.Metadata}, nil
	case "":
		if env.Artifact != "" {
			return ArtifactFrame{Name: env.Artifact}, nil
		}
	}
	return UnknownFrame{Type: env.Type}, nil
}
