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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// Interfaces
// =============================================================================

// Conn is one bidirectional frame stream.
//
// # Thread Safety
//
// ReadMessage is called from a single reader goroutine. WriteJSON and Close
// may be called from other goroutines, but never concurrently with each
// other; the Controller serializes them under its mutex.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives.
	ReadMessage() ([]byte, error)

	// WriteJSON encodes v as one text frame.
	WriteJSON(v any) error

	// Close tears down the transport. A blocked ReadMessage returns an error.
	Close() error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// =============================================================================
// Failure Classification
// =============================================================================

// CloseCause describes why a connection stopped delivering frames.
type CloseCause int

const (
	// CauseRemoteClose means the server sent a close frame.
	CauseRemoteClose CloseCause = iota

	// CauseLost means the stream ended without a close handshake.
	CauseLost

	// CauseError is any other transport failure.
	CauseError
)

// String returns the label used in logs and metrics.
func (c CloseCause) String() string {
	switch c {
	case CauseRemoteClose:
		return "remote_close"
	case CauseLost:
		return "lost"
	default:
		return "error"
	}
}

// ErrorText returns the message shown on an interrupted turn.
func (c CloseCause) ErrorText() string {
	switch c {
	case CauseRemoteClose:
		return ErrTextClosedUnexpectedly
	case CauseLost:
		return ErrTextConnectionLost
	default:
		return ErrTextSocketError
	}
}

// ClassifyReadError maps a read failure to a CloseCause.
func ClassifyReadError(err error) CloseCause {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseAbnormalClosure {
			return CauseLost
		}
		return CauseRemoteClose
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CauseLost
	}
	return CauseError
}

// =============================================================================
// gorilla/websocket implementation
// =============================================================================

// WebSocketDialer dials real WebSocket connections.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the HTTP upgrade. Zero means 10 seconds.
	HandshakeTimeout time.Duration

	// Header is sent with the upgrade request.
	Header http.Header
}

// Dial opens a WebSocket connection to endpoint.
func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteJSON(v any) error {
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// EndpointWithToken appends the auth token as a query credential.
func EndpointWithToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var (
	_ Dialer = WebSocketDialer{}
	_ Conn   = (*wsConn)(nil)
)
