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
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/google/uuid"
)

// DefaultIdleWindow is how long the stream may stay silent before the
// in-flight turn is considered complete.
const DefaultIdleWindow = time.Second

var (
	// ErrMissingToken is returned by Open when no auth token is available.
	// The session stays in StateUnconnected.
	ErrMissingToken = errors.New("auth token is missing")

	// ErrAlreadyOpen is returned by Open while a connection is live or dialing.
	ErrAlreadyOpen = errors.New("session connection already open")

	// ErrClosedDuringDial is returned by Open when Close won the race
	// against an in-progress dial.
	ErrClosedDuringDial = errors.New("session closed while connecting")
)

// Turn outcomes used for logs and metrics.
const (
	outcomeDone       = "done"
	outcomeIdle       = "idle"
	outcomeStopped    = "stopped"
	outcomeClosed     = "closed"
	outcomeError      = "error"
	outcomeSendFailed = "send_failed"
)

// DefaultRoutingMarkers returns the query strings the server recognizes
// by prefix, mapped to the prefix that is prepended before sending.
func DefaultRoutingMarkers() map[string]string {
	return map[string]string{
		"Generate a compliance gap report": "#gap_report ",
		"Build my AI risk score":           "#risk_score ",
	}
}

// =============================================================================
// Collaborators
// =============================================================================

// ScrollAnchor is the view's scroll-follow utility.
//
// IsAtBottom reports whether the viewport was at the bottom when it was
// last rendered. ScrollToBottom schedules a scroll for the next render and
// must not block.
type ScrollAnchor interface {
	IsAtBottom() bool
	ScrollToBottom()
}

// Notifier shows transient notices (toasts). Notify must not block.
type Notifier interface {
	Notify(text string)
}

type noopAnchor struct{}

func (noopAnchor) IsAtBottom() bool { return false }
func (noopAnchor) ScrollToBottom()  {}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// =============================================================================
// State
// =============================================================================

// ConnState is the connection state of a session.
type ConnState int

const (
	// StateUnconnected means Open was never called or no token was available.
	StateUnconnected ConnState = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateOpen means the transport is up and the handshake was sent.
	StateOpen

	// StateClosed means the transport is gone. A new Open dials again.
	StateClosed
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent, deep-copied view of a session.
type Snapshot struct {
	SessionID string
	State     ConnState
	Validated bool
	Phase     TurnPhase
	Messages  []Message
}

// CanSubmit reports whether the submission gate is open.
func (s Snapshot) CanSubmit() bool {
	return s.State == StateOpen && s.Validated && s.Phase == PhaseIdle
}

// Loading reports whether a turn is in flight.
func (s Snapshot) Loading() bool {
	return s.Phase != PhaseIdle
}

// =============================================================================
// Options
// =============================================================================

// Options configures a Controller.
type Options struct {
	// Endpoint is the WebSocket URL, without credentials. Required.
	Endpoint string

	// IdleWindow is the silence after which a turn finalizes.
	// Default: DefaultIdleWindow.
	IdleWindow time.Duration

	// RoutingMarkers maps exact query strings to a prefix sent ahead of
	// them. Nil means DefaultRoutingMarkers; an empty map disables routing.
	RoutingMarkers map[string]string

	// Dialer opens connections. Default: WebSocketDialer{}.
	Dialer Dialer

	// Clock drives the idle timer. Default: SystemClock{}.
	Clock Clock

	// Anchor is asked before each token update whether to follow the tail.
	Anchor ScrollAnchor

	// Notifier receives toasts for malformed frames.
	Notifier Notifier

	// Metrics is optional.
	Metrics *observability.ClientMetrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// NewID generates message IDs. Default: uuid.NewString.
	NewID func() string
}

func (o *Options) applyDefaults() {
	if o.IdleWindow <= 0 {
		o.IdleWindow = DefaultIdleWindow
	}
	if o.RoutingMarkers == nil {
		o.RoutingMarkers = DefaultRoutingMarkers()
	}
	if o.Dialer == nil {
		o.Dialer = WebSocketDialer{}
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Anchor == nil {
		o.Anchor = noopAnchor{}
	}
	if o.Notifier == nil {
		o.Notifier = noopNotifier{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// =============================================================================
// Controller
// =============================================================================

// Controller is the streaming session controller for one conversation view.
//
// # Description
//
// It owns one WebSocket connection and the transcript of the session. It
// accumulates streamed tokens into the in-flight message, finalizes the
// turn on an explicit done frame or after IdleWindow of silence, and
// gates submissions on the connection being open and validated with no
// turn in flight.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The reader goroutine, timer
// callbacks and callers are serialized by one mutex; transport writes only
// happen while it is held.
type Controller struct {
	opts Options

	mu         sync.Mutex
	sessionID  string
	state      ConnState
	validated  bool
	phase      TurnPhase
	conn       Conn
	dialSeq    uint64
	transcript *Transcript
	turn       turnBuffer

	idle    Timer
	idleGen uint64

	updates chan Snapshot
}

// New creates a Controller. Nothing is dialed until Open.
func New(opts Options) (*Controller, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("chatstream: endpoint is required")
	}
	opts.applyDefaults()

	return &Controller{
		opts:       opts,
		state:      StateUnconnected,
		phase:      PhaseIdle,
		transcript: NewTranscript(),
		updates:    make(chan Snapshot, 1),
	}, nil
}

// Updates delivers the latest snapshot after every state change.
// Intermediate snapshots are dropped when the consumer falls behind.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Seed appends finalized messages, e.g. history loaded over REST. It is
// ignored while a turn is in flight.
func (c *Controller) Seed(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transcript.Current() != nil {
		c.opts.Logger.Warn("seed ignored while a turn is in flight", "session_id", c.sessionID)
		return
	}
	c.transcript.AppendFinished(msgs...)
	c.publishLocked()
}

// =============================================================================
// Connection Manager
// =============================================================================

// Open connects the session.
//
// # Description
//
// Dials Endpoint with the token as a query credential, sends the
// handshake and starts reading frames. The submission gate stays closed
// until the server acknowledges the session with "session_validated".
//
// # Outputs
//
//   - error: ErrMissingToken if token is empty (state StateUnconnected),
//     ErrAlreadyOpen if a connection is live or dialing, or a dial or
//     handshake error (state StateClosed).
//
// # Limitations
//
//   - No automatic reconnect. After a failure the caller must Open again.
func (c *Controller) Open(ctx context.Context, sessionID, token string) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.sessionID = sessionID
	c.validated = false

	if token == "" {
		c.state = StateUnconnected
		c.opts.Metrics.RecordConnection("no_token")
		c.opts.Logger.Warn("no auth token, session stays unconnected",
			"session_id", sessionID,
			"token_present", false)
		c.publishLocked()
		c.mu.Unlock()
		return ErrMissingToken
	}

	c.state = StateConnecting
	c.dialSeq++
	seq := c.dialSeq
	c.publishLocked()
	c.mu.Unlock()

	endpoint, err := EndpointWithToken(c.opts.Endpoint, token)
	if err != nil {
		c.failDial(seq)
		return err
	}

	conn, err := c.opts.Dialer.Dial(ctx, endpoint)
	if err != nil {
		c.failDial(seq)
		c.opts.Logger.Error("chat stream dial failed",
			"session_id", sessionID,
			"endpoint", c.opts.Endpoint,
			"error", err)
		return fmt.Errorf("open session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dialSeq != seq || c.state != StateConnecting {
		_ = conn.Close()
		return ErrClosedDuringDial
	}

	if err := conn.WriteJSON(HandshakeFrame{SessionID: sessionID}); err != nil {
		_ = conn.Close()
		c.state = StateClosed
		c.opts.Metrics.RecordConnection("failed")
		c.publishLocked()
		return fmt.Errorf("send handshake: %w", err)
	}

	c.conn = conn
	c.state = StateOpen
	c.opts.Metrics.RecordConnection("open")
	c.opts.Logger.Info("chat stream opened",
		"session_id", sessionID,
		"endpoint", c.opts.Endpoint,
		"token_present", true)
	c.publishLocked()

	go c.readLoop(conn)
	return nil
}

func (c *Controller) failDial(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialSeq == seq && c.state == StateConnecting {
		c.state = StateClosed
		c.publishLocked()
	}
	c.opts.Metrics.RecordConnection("failed")
}

// Close tears the session down: the idle timer is cancelled, an in-flight
// turn is finalized and the transport is closed. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalizeLocked(outcomeClosed, "")
	c.closeTransportLocked("local")
}

// Stop ends the in-flight turn as if the idle window had elapsed and then
// force-closes the transport. The server is not told; cancellation is
// observed only on this side.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transcript.Current() == nil && c.conn == nil {
		return
	}
	c.finalizeLocked(outcomeStopped, "")
	c.closeTransportLocked("stopped")
}

func (c *Controller) closeTransportLocked(cause string) {
	c.stopIdleLocked()
	c.dialSeq++

	wasLive := c.conn != nil || c.state == StateConnecting
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.opts.Logger.Debug("close transport", "session_id", c.sessionID, "error", err)
		}
		c.conn = nil
	}
	if !wasLive {
		return
	}
	c.state = StateClosed
	c.validated = false
	c.opts.Metrics.RecordDisconnect(cause)
	c.opts.Logger.Info("chat stream closed", "session_id", c.sessionID, "cause", cause)
	c.publishLocked()
}

// readLoop pumps frames until the transport fails. Each conn gets its own
// loop; events from a conn that is no longer current are ignored.
func (c *Controller) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportError(conn, err)
			return
		}

		frame, err := DecodeInbound(data)
		if err != nil {
			c.handleMalformed(conn, err)
			continue
		}
		c.handleInbound(conn, frame)
	}
}

func (c *Controller) handleTransportError(conn Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	cause := ClassifyReadError(err)
	c.opts.Logger.Warn("chat stream failed",
		"session_id", c.sessionID,
		"cause", cause.String(),
		"error", err)

	c.finalizeLocked(outcomeError, cause.ErrorText())
	c.closeTransportLocked(cause.String())
}

func (c *Controller) handleMalformed(conn Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	sessionID := c.sessionID
	c.mu.Unlock()

	if !current {
		return
	}
	c.opts.Metrics.RecordMalformedFrame()
	c.opts.Logger.Warn("malformed frame", "session_id", sessionID, "error", err)
	c.opts.Notifier.Notify("Received a malformed message from the server.")
}

func (c *Controller) handleInbound(conn Conn, frame Inbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.opts.Metrics.RecordFrame(frame.Kind())

	switch f := frame.(type) {
	case StatusFrame:
		if f.Message != StatusSessionValidated {
			c.opts.Logger.Debug("status frame", "session_id", c.sessionID, "message", f.Message)
			return
		}
		c.validated = true
		c.opts.Logger.Info("session validated", "session_id", c.sessionID)
		c.publishLocked()

	case PingFrame:
		if err := conn.WriteJSON(PongFrame{Type: FrameTypePong}); err != nil {
			c.opts.Logger.Warn("pong failed", "session_id", c.sessionID, "error", err)
		}

	case TokenFrame:
		c.onTokenLocked(f.Token)

	case ArtifactFrame:
		c.onArtifactLocked(f.Name)

	case DoneFrame:
		if c.transcript.Current() == nil {
			c.opts.Logger.Debug("done frame without a turn", "session_id", c.sessionID)
			return
		}
		c.turn.stash(f.Metadata)
		c.finalizeLocked(outcomeDone, "")
		c.publishLocked()

	case UnknownFrame:
		c.opts.Logger.Debug("unknown frame ignored", "session_id", c.sessionID, "type", f.Type)
	}
}

// =============================================================================
// Token Accumulator
// =============================================================================

func (c *Controller) onTokenLocked(token string) {
	cur := c.transcript.Current()
	if cur == nil {
		c.opts.Logger.Debug("token without a turn dropped", "session_id", c.sessionID)
		return
	}

	now := c.opts.Clock.Now()
	first := !c.turn.receivedData
	cur.Response = c.turn.write(token, now)
	if first {
		c.opts.Metrics.RecordFirstToken(now.Sub(c.turn.startedAt))
	}
	c.phase = PhaseStreaming
	c.armIdleLocked()

	c.turn.follow = c.opts.Anchor.IsAtBottom()
	c.publishLocked()
	if c.turn.follow {
		c.opts.Anchor.ScrollToBottom()
	}
}

func (c *Controller) onArtifactLocked(name string) {
	cur := c.transcript.Current()
	if cur == nil {
		c.opts.Logger.Debug("artifact without a turn dropped", "session_id", c.sessionID, "artifact", name)
		return
	}
	if name != ArtifactShowForm {
		c.opts.Logger.Debug("unknown artifact ignored", "session_id", c.sessionID, "artifact", name)
		return
	}
	cur.ShowArtifact = true
	c.phase = PhaseStreaming
	c.armIdleLocked()
	c.publishLocked()
}

// =============================================================================
// Idle Finalizer
// =============================================================================

// armIdleLocked (re)starts the single-shot idle timer. Each arm bumps the
// generation so a callback that already fired but lost the race for the
// mutex becomes a no-op.
func (c *Controller) armIdleLocked() {
	c.stopIdleLocked()
	gen := c.idleGen
	c.idle = c.opts.Clock.AfterFunc(c.opts.IdleWindow, func() {
		c.onIdle(gen)
	})
}

func (c *Controller) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.idleGen++
}

func (c *Controller) onIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.idleGen {
		return
	}
	c.idle = nil
	if c.transcript.Current() == nil {
		return
	}
	c.finalizeLocked(outcomeIdle, "")
	c.publishLocked()
}

// finalizeLocked closes out the in-flight turn, if any. errText marks the
// turn as failed; otherwise an answer with no data gets NoResponseText.
// The caller publishes.
func (c *Controller) finalizeLocked(outcome, errText string) {
	cur := c.transcript.Current()
	if cur == nil {
		return
	}
	c.phase = PhaseFinalizing
	c.stopIdleLocked()

	switch {
	case errText != "":
		cur.Error = errText
	case !c.turn.receivedData && c.turn.empty():
		cur.Response = NoResponseText
	}
	if len(c.turn.metadata) > 0 {
		cur.Metadata = cloneMetadata(c.turn.metadata)
	}

	now := c.opts.Clock.Now()
	c.opts.Metrics.RecordTurn(outcome, now.Sub(c.turn.startedAt))
	c.opts.Logger.Debug("turn finalized",
		"session_id", c.sessionID,
		"message_id", cur.ID,
		"outcome", outcome,
		"tokens", c.turn.tokens)

	c.transcript.Finish(now)
	c.turn.reset()
	c.phase = PhaseIdle
}

// =============================================================================
// Submission Gate
// =============================================================================

// Submit sends a user query.
//
// # Description
//
// The query is silently dropped, returning false, unless the connection
// is open, the session is validated, no turn is in flight and the text is
// not blank. Otherwise a loading message is appended and the submit frame
// is sent. A query that exactly matches a routing marker is sent with the
// marker's prefix; the message keeps the text as typed.
//
// # Outputs
//
//   - bool: true if a message was appended. A send failure still appends
//     the message and finalizes it with ErrTextSendFailed.
func (c *Controller) Submit(text string, opts SubmitOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		c.opts.Metrics.RecordSubmit("dropped_empty")
		return false
	}
	if c.state != StateOpen || !c.validated || c.transcript.Current() != nil {
		c.opts.Metrics.RecordSubmit("dropped_gate")
		c.opts.Logger.Debug("submit dropped by gate",
			"session_id", c.sessionID,
			"state", c.state.String(),
			"validated", c.validated,
			"phase", c.phase.String())
		return false
	}

	now := c.opts.Clock.Now()
	msg := Message{
		ID:           c.opts.NewID(),
		Query:        text,
		CollectionID: opts.CollectionID,
		ShowForm:     opts.BuildScore,
		CreatedAt:    now,
	}
	if err := c.transcript.Begin(msg); err != nil {
		c.opts.Metrics.RecordSubmit("dropped_gate")
		return false
	}
	c.turn.begin(now)
	c.phase = PhaseAwaiting

	wire := text
	if prefix, ok := c.opts.RoutingMarkers[text]; ok {
		wire = prefix + text
	}

	if err := c.conn.WriteJSON(NewSubmitFrame(c.sessionID, wire, opts)); err != nil {
		c.opts.Metrics.RecordSubmit("send_failed")
		c.opts.Logger.Error("send query failed", "session_id", c.sessionID, "error", err)
		c.finalizeLocked(outcomeSendFailed, ErrTextSendFailed)
		c.publishLocked()
		return true
	}

	c.opts.Metrics.RecordSubmit("accepted")
	c.opts.Logger.Debug("query sent",
		"session_id", c.sessionID,
		"message_id", msg.ID,
		"routed", wire != text,
		"attachment", opts.CollectionID != "",
		"build_score", opts.BuildScore)
	c.publishLocked()
	return true
}

// =============================================================================
// Observation
// =============================================================================

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: c.sessionID,
		State:     c.state,
		Validated: c.validated,
		Phase:     c.phase,
		Messages:  c.transcript.Messages(),
	}
}

// publishLocked replaces any unread snapshot with the current one.
func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}
