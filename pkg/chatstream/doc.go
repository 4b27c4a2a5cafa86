// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatstream implements the client side of the streaming chat
// protocol: one WebSocket connection per conversation, token accumulation
// into the in-flight answer, idle-based finalization and a submission gate.
//
// # Lifecycle
//
//	ctrl, _ := chatstream.New(chatstream.Options{Endpoint: "ws://localhost:8090/v1/chat/ws"})
//	_ = ctrl.Open(ctx, sessionID, token)
//	defer ctrl.Close()
//
//	for snap := range ctrl.Updates() {
//	    if snap.CanSubmit() { ctrl.Submit("What is GDPR?", chatstream.SubmitOptions{}) }
//	    render(snap.Messages)
//	}
//
// # Turn State Machine
//
//	idle ──Submit──▶ awaiting ──token/artifact──▶ streaming
//	  ▲                 │                            │
//	  └──── finalize ◀──┴── done / idle timeout / ───┘
//	                        transport failure / Stop
//
// A turn that ends without any token gets the response "No response
// received.". A transport failure keeps the partial response and sets
// the message error.
package chatstream
