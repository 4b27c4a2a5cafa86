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
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

const (
	testEndpoint  = "ws://hub.test/v1/chat/ws"
	testSessionID = "sess-123"
	testToken     = "tok-abc"
)

type harness struct {
	ctrl     *Controller
	clock    *fakeClock
	dialer   *fakeDialer
	anchor   *fakeAnchor
	notifier *fakeNotifier
	metrics  *observability.ClientMetrics
	ids      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:    newFakeClock(),
		dialer:   &fakeDialer{},
		anchor:   &fakeAnchor{},
		notifier: &fakeNotifier{},
		metrics:  observability.NewClientMetrics(prometheus.NewRegistry()),
	}
	ctrl, err := New(Options{
		Endpoint: testEndpoint,
		Dialer:   h.dialer,
		Clock:    h.clock,
		Anchor:   h.anchor,
		Notifier: h.notifier,
		Metrics:  h.metrics,
		NewID: func() string {
			h.ids++
			return "msg-" + strconv.Itoa(h.ids)
		},
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

// open connects without validating.
func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, h.ctrl.Open(context.Background(), testSessionID, testToken))
	conn := h.dialer.last()
	require.NotNil(t, conn)
	return conn
}

// ready connects and validates the session.
func (h *harness) ready(t *testing.T) *fakeConn {
	t.Helper()
	conn := h.open(t)
	conn.push(`{"type":"status","message":"session_validated"}`)
	require.True(t, h.ctrl.Snapshot().CanSubmit())
	return conn
}

func lastMessage(t *testing.T, snap Snapshot) Message {
	t.Helper()
	require.NotEmpty(t, snap.Messages)
	return snap.Messages[len(snap.Messages)-1]
}

func loadingCount(snap Snapshot) int {
	n := 0
	for _, m := range snap.Messages {
		if m.Loading {
			n++
		}
	}
	return n
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	ctrl, err := New(Options{Endpoint: testEndpoint})
	require.NoError(t, err)

	assert.Equal(t, DefaultIdleWindow, ctrl.opts.IdleWindow)
	assert.Equal(t, DefaultRoutingMarkers(), ctrl.opts.RoutingMarkers)
	assert.IsType(t, WebSocketDialer{}, ctrl.opts.Dialer)
	assert.IsType(t, SystemClock{}, ctrl.opts.Clock)

	snap := ctrl.Snapshot()
	assert.Equal(t, StateUnconnected, snap.State)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.Messages)
}

// =============================================================================
// Connection Manager
// =============================================================================

func TestOpen_MissingTokenStaysUnconnected(t *testing.T) {
	h := newHarness(t)

	err := h.ctrl.Open(context.Background(), testSessionID, "")

	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Empty(t, h.dialer.endpoints, "nothing should be dialed")
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateUnconnected, snap.State)
	assert.Equal(t, testSessionID, snap.SessionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectionsTotal.WithLabelValues("no_token")))
}

func TestOpen_SendsHandshakeWithTokenCredential(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	require.Len(t, h.dialer.endpoints, 1)
	assert.Equal(t, testEndpoint+"?token="+testToken, h.dialer.endpoints[0])
	assert.Equal(t, []string{`{"session_id":"sess-123"}`}, conn.frames())

	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.False(t, snap.Validated)
	assert.False(t, snap.CanSubmit())
}

func TestOpen_AlreadyOpen(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	err := h.ctrl.Open(context.Background(), testSessionID, testToken)
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Len(t, h.dialer.endpoints, 1)
}

func TestOpen_DialErrorLeavesSessionClosed(t *testing.T) {
	h := newHarness(t)
	h.dialer.err = errors.New("connection refused")

	err := h.ctrl.Open(context.Background(), testSessionID, testToken)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateClosed, h.ctrl.Snapshot().State)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ConnectionsTotal.WithLabelValues("failed")))
}

func TestOpen_StatusOtherThanValidatedKeepsGateClosed(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(`{"type":"status","message":"warming_up"}`)

	assert.False(t, h.ctrl.Snapshot().Validated)
}

func TestPing_RepliesWithPong(t *testing.T) {
	h := newHarness(t)
	conn := h.open(t)

	conn.push(`{"type":"ping"}`)

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"pong"}`, frames[1])
}

func TestMalformedFrame_ToastsAndKeepsSession(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("hello", SubmitOptions{}))
	conn.push(`{"type":"token","token":"Hi"}`)

	conn.push(`{not json`)

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.MalformedFramesTotal))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.True(t, snap.Validated)
	msg := lastMessage(t, snap)
	assert.True(t, msg.Loading)
	assert.Equal(t, "Hi", msg.Response)

	conn.push(`{"type":"token","token":" there"}`)
	assert.Equal(t, "Hi there", lastMessage(t, h.ctrl.Snapshot()).Response)
}

func TestTransportFailure_ErrorTextByCause(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "peer close frame",
			err:      &websocket.CloseError{Code: websocket.CloseNormalClosure},
			wantText: ErrTextClosedUnexpectedly,
		},
		{
			name:     "abnormal closure",
			err:      &websocket.CloseError{Code: websocket.CloseAbnormalClosure},
			wantText: ErrTextConnectionLost,
		},
		{
			name:     "eof",
			err:      io.ErrUnexpectedEOF,
			wantText: ErrTextConnectionLost,
		},
		{
			name:     "other",
			err:      errors.New("tls: bad record MAC"),
			wantText: ErrTextSocketError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			conn := h.ready(t)
			require.True(t, h.ctrl.Submit("q", SubmitOptions{}))
			conn.push(`{"type":"token","token":"Hello"}`)

			conn.fail(tt.err)

			require.Eventually(t, func() bool {
				return h.ctrl.Snapshot().State == StateClosed
			}, time.Second, time.Millisecond)

			snap := h.ctrl.Snapshot()
			assert.False(t, snap.Validated)
			assert.Equal(t, PhaseIdle, snap.Phase)
			msg := lastMessage(t, snap)
			assert.False(t, msg.Loading)
			assert.Equal(t, tt.wantText, msg.Error)
			assert.Equal(t, "Hello", msg.Response)
			assert.Zero(t, h.clock.pending(), "idle timer should be cleared")
		})
	}
}

func TestTransportFailure_WithoutTurnOnlyClosesSession(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	conn.fail(io.EOF)

	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().State == StateClosed
	}, time.Second, time.Millisecond)
	assert.Empty(t, h.ctrl.Snapshot().Messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DisconnectsTotal.WithLabelValues("lost")))
}

func TestClose_ClearsTimerAndAllowsReopen(t *testing.T) {
	h := newHarness(t)
	first := h.ready(t)
	require.True(t, h.ctrl.Submit("q1", SubmitOptions{}))
	first.push(`{"type":"token","token":"partial"}`)
	require.Equal(t, 1, h.clock.pending())

	h.ctrl.Close()

	assert.True(t, first.isClosed())
	assert.Zero(t, h.clock.pending())
	snap := h.ctrl.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, loadingCount(snap))
	assert.Equal(t, "partial", lastMessage(t, snap).Response)

	h.ctrl.Close()

	second := h.ready(t)
	assert.NotSame(t, first, second)
	assert.Len(t, h.ctrl.Snapshot().Messages, 1, "transcript survives a reopen")
}

// =============================================================================
// Submission Gate
// =============================================================================

func TestSubmit_RejectedBeforeValidation(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.ctrl.Submit("What is GDPR?", SubmitOptions{}), "unconnected")

	conn := h.open(t)
	assert.False(t, h.ctrl.Submit("What is GDPR?", SubmitOptions{}), "open but not validated")

	assert.Empty(t, h.ctrl.Snapshot().Messages)
	assert.Len(t, conn.frames(), 1, "only the handshake was written")
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SubmitsTotal.WithLabelValues("dropped_gate")))
}

func TestSubmit_RejectsBlankText(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	assert.False(t, h.ctrl.Submit("   ", SubmitOptions{}))
	assert.Empty(t, h.ctrl.Snapshot().Messages)
}

func TestSubmit_AtMostOneLoadingMessage(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	sequence := []struct {
		action string
		text   string
	}{
		{"submit", "a"},
		{"submit", "b"},
		{"token", "x"},
		{"submit", "c"},
		{"idle", ""},
		{"submit", "d"},
		{"submit", "e"},
		{"done", ""},
		{"submit", "f"},
	}

	for _, step := range sequence {
		switch step.action {
		case "submit":
			h.ctrl.Submit(step.text, SubmitOptions{})
		case "token":
			conn.push(`{"type":"token","token":"` + step.text + `"}`)
		case "idle":
			h.clock.Advance(DefaultIdleWindow)
		case "done":
			conn.push(`{"type":"done"}`)
		}
		assert.LessOrEqual(t, loadingCount(h.ctrl.Snapshot()), 1, "after %s %q", step.action, step.text)
	}

	var queries []string
	for _, m := range h.ctrl.Snapshot().Messages {
		queries = append(queries, m.Query)
	}
	assert.Equal(t, []string{"a", "d", "f"}, queries)
}

func TestSubmit_AppendsLoadingMessageAndSendsFrame(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	require.True(t, h.ctrl.Submit("What is GDPR?", SubmitOptions{}))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, PhaseAwaiting, snap.Phase)
	assert.False(t, snap.CanSubmit())
	msg := lastMessage(t, snap)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, "What is GDPR?", msg.Query)
	assert.True(t, msg.Loading)
	assert.Empty(t, msg.Response)
	assert.Equal(t, testEpoch, msg.CreatedAt)

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t,
		`{"user_query":"What is GDPR?","session_id":"sess-123","assesment_rag":false,"collection_id":null,"flag":null}`,
		frames[1])
}

func TestSubmit_OptionsFlowIntoFrameAndMessage(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	require.True(t, h.ctrl.Submit("Score me", SubmitOptions{CollectionID: "col-9", BuildScore: true}))

	msg := lastMessage(t, h.ctrl.Snapshot())
	assert.Equal(t, "col-9", msg.CollectionID)
	assert.True(t, msg.ShowForm)
	assert.JSONEq(t,
		`{"user_query":"Score me","session_id":"sess-123","assesment_rag":false,"attachment":true,"collection_id":"col-9","build_score":true,"flag":null}`,
		conn.frames()[1])
}

func TestSubmit_RoutingMarkerPrefixesWireQueryOnly(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	require.True(t, h.ctrl.Submit("Generate a compliance gap report", SubmitOptions{}))

	assert.Equal(t, "Generate a compliance gap report", lastMessage(t, h.ctrl.Snapshot()).Query)
	assert.Contains(t, conn.frames()[1], `"user_query":"#gap_report Generate a compliance gap report"`)
}

func TestSubmit_RoutingMarkerRequiresExactMatch(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	require.True(t, h.ctrl.Submit("Build my AI risk score please", SubmitOptions{}))

	assert.Contains(t, conn.frames()[1], `"user_query":"Build my AI risk score please"`)
}

func TestSubmit_SendFailureFinalizesWithError(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	conn.setWriteErr(errors.New("broken pipe"))

	assert.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	snap := h.ctrl.Snapshot()
	msg := lastMessage(t, snap)
	assert.False(t, msg.Loading)
	assert.Equal(t, ErrTextSendFailed, msg.Error)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Zero(t, h.clock.pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmitsTotal.WithLabelValues("send_failed")))
}

// =============================================================================
// Token Accumulator + Idle Finalizer
// =============================================================================

func TestIdleFinalization_FiresOneWindowAfterLastToken(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	conn.push(`{"type":"token","token":"Hello"}`)
	assert.Equal(t, PhaseStreaming, h.ctrl.Snapshot().Phase)

	h.clock.Advance(500 * time.Millisecond)
	conn.push(`{"type":"token","token":", world"}`)

	h.clock.Advance(999 * time.Millisecond)
	assert.True(t, lastMessage(t, h.ctrl.Snapshot()).Loading, "still loading at t=1499ms")

	h.clock.Advance(time.Millisecond)

	snap := h.ctrl.Snapshot()
	msg := lastMessage(t, snap)
	assert.False(t, msg.Loading)
	assert.Equal(t, "Hello, world", msg.Response)
	assert.Empty(t, msg.Error)
	assert.Equal(t, testEpoch.Add(1500*time.Millisecond), msg.FinishedAt)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.True(t, snap.CanSubmit())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues("idle")))
}

func TestIdleFinalization_ConfigurableWindow(t *testing.T) {
	clock := newFakeClock()
	dialer := &fakeDialer{}
	ctrl, err := New(Options{
		Endpoint:   testEndpoint,
		IdleWindow: 250 * time.Millisecond,
		Dialer:     dialer,
		Clock:      clock,
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Open(context.Background(), testSessionID, testToken))
	conn := dialer.last()
	conn.push(`{"type":"status","message":"session_validated"}`)
	require.True(t, ctrl.Submit("q", SubmitOptions{}))
	conn.push(`{"type":"token","token":"x"}`)

	clock.Advance(250 * time.Millisecond)

	assert.False(t, lastMessage(t, ctrl.Snapshot()).Loading)
}

func TestDone_ShortCircuitsIdleTimer(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	conn.push(`{"type":"token","token":"GDPR is"}`)
	h.clock.Advance(50 * time.Millisecond)
	conn.push(`{"type":"done","metadata":[{"name":"GDPR","jurisdiction":"EU","key_features":["consent","erasure"]}]}`)

	msg := lastMessage(t, h.ctrl.Snapshot())
	assert.False(t, msg.Loading)
	assert.Equal(t, testEpoch.Add(50*time.Millisecond), msg.FinishedAt)
	assert.Equal(t, "GDPR is", msg.Response)
	require.Len(t, msg.Metadata, 1)
	assert.Equal(t, "GDPR", msg.Metadata[0].Name)
	assert.Equal(t, []string{"consent", "erasure"}, msg.Metadata[0].KeyFeatures)
	assert.Zero(t, h.clock.pending())

	h.clock.Advance(2 * time.Second)
	assert.Equal(t, msg, lastMessage(t, h.ctrl.Snapshot()), "late timer must not touch the turn")
}

func TestDone_WithoutTokensYieldsNoResponseText(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	conn.push(`{"type":"done"}`)

	msg := lastMessage(t, h.ctrl.Snapshot())
	assert.False(t, msg.Loading)
	assert.Equal(t, NoResponseText, msg.Response)
	assert.Empty(t, msg.Error)
	assert.Nil(t, msg.Metadata)
}

func TestArtifact_SetsFlagAndArmsTimer(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("Build my AI risk score", SubmitOptions{BuildScore: true}))

	conn.push(`{"artifact":"SHOW FORM"}`)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, PhaseStreaming, snap.Phase)
	assert.True(t, lastMessage(t, snap).ShowArtifact)
	assert.Equal(t, 1, h.clock.pending())

	h.clock.Advance(DefaultIdleWindow)

	msg := lastMessage(t, h.ctrl.Snapshot())
	assert.False(t, msg.Loading)
	assert.True(t, msg.ShowArtifact)
	assert.Equal(t, NoResponseText, msg.Response)
}

func TestArtifact_InterleavedWithTokens(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	conn.push(`{"type":"token","token":"a"}`)
	conn.push(`{"artifact":"SHOW FORM"}`)
	conn.push(`{"type":"token","token":"b"}`)
	conn.push(`{"type":"done"}`)

	msg := lastMessage(t, h.ctrl.Snapshot())
	assert.Equal(t, "ab", msg.Response)
	assert.True(t, msg.ShowArtifact)
}

func TestToken_WithoutTurnIsDropped(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	conn.push(`{"type":"token","token":"stray"}`)
	conn.push(`{"artifact":"SHOW FORM"}`)
	conn.push(`{"type":"done"}`)

	assert.Empty(t, h.ctrl.Snapshot().Messages)
	assert.Zero(t, h.clock.pending())
}

func TestToken_BufferResetsBetweenTurns(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)

	require.True(t, h.ctrl.Submit("one", SubmitOptions{}))
	conn.push(`{"type":"token","token":"first"}`)
	conn.push(`{"type":"done"}`)

	require.True(t, h.ctrl.Submit("two", SubmitOptions{}))
	conn.push(`{"type":"token","token":"second"}`)
	conn.push(`{"type":"done"}`)

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Response)
	assert.Equal(t, "second", msgs[1].Response)
}

func TestToken_FollowsTailOnlyWhenAtBottom(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	conn.push(`{"type":"token","token":"a"}`)
	assert.Zero(t, h.anchor.scrolls)

	h.anchor.mu.Lock()
	h.anchor.atBottom = true
	h.anchor.mu.Unlock()

	conn.push(`{"type":"token","token":"b"}`)
	assert.Equal(t, 1, h.anchor.scrolls)
}

func TestToken_RecordsTimeToFirstToken(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	h.clock.Advance(300 * time.Millisecond)
	conn.push(`{"type":"token","token":"a"}`)
	conn.push(`{"type":"token","token":"b"}`)

	var m dto.Metric
	require.NoError(t, h.metrics.TimeToFirstTokenSeconds.Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.3, m.GetHistogram().GetSampleSum(), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.FramesTotal.WithLabelValues("token")))
}

// =============================================================================
// Stop
// =============================================================================

func TestStop_FinalizesLikeIdleAndClosesTransport(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))
	conn.push(`{"type":"token","token":"partial answer"}`)

	h.ctrl.Stop()

	snap := h.ctrl.Snapshot()
	msg := lastMessage(t, snap)
	assert.False(t, msg.Loading)
	assert.Empty(t, msg.Error)
	assert.Equal(t, "partial answer", msg.Response)
	assert.Equal(t, StateClosed, snap.State)
	assert.True(t, conn.isClosed())
	assert.Zero(t, h.clock.pending())
	assert.Len(t, conn.frames(), 2, "no cancel frame is sent")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnsTotal.WithLabelValues("stopped")))
}

func TestStop_BeforeAnyTokenYieldsNoResponseText(t *testing.T) {
	h := newHarness(t)
	h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))

	h.ctrl.Stop()

	assert.Equal(t, NoResponseText, lastMessage(t, h.ctrl.Snapshot()).Response)
}

// =============================================================================
// Observation
// =============================================================================

func TestSeed_AppendsFinishedHistory(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Seed([]Message{
		{ID: "h1", Query: "old", Response: "answer", Loading: true},
	})

	msgs := h.ctrl.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Loading)
	assert.Equal(t, "answer", msgs[0].Response)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Seed([]Message{{
		ID:       "h1",
		Metadata: []MetadataRecord{{Name: "GDPR", KeyFeatures: []string{"consent"}}},
	}})

	snap := h.ctrl.Snapshot()
	snap.Messages[0].Metadata[0].KeyFeatures[0] = "mutated"
	snap.Messages[0].Response = "mutated"

	again := h.ctrl.Snapshot()
	assert.Equal(t, "consent", again.Messages[0].Metadata[0].KeyFeatures[0])
	assert.Empty(t, again.Messages[0].Response)
}

func TestUpdates_LatestWins(t *testing.T) {
	h := newHarness(t)
	conn := h.ready(t)
	require.True(t, h.ctrl.Submit("q", SubmitOptions{}))
	conn.push(`{"type":"token","token":"a"}`)
	conn.push(`{"type":"token","token":"b"}`)

	select {
	case snap := <-h.ctrl.Updates():
		assert.Equal(t, "ab", lastMessage(t, snap).Response)
	default:
		t.Fatal("expected a pending update")
	}

	select {
	case <-h.ctrl.Updates():
		t.Fatal("only the latest snapshot should be buffered")
	default:
	}
}
