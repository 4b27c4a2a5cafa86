// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/AleutianAI/govchat/services/hub/redact"
	"github.com/AleutianAI/govchat/services/hub/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

var testTokens = map[string][]string{
	"admin-tok":  {"admin"},
	"viewer-tok": {"viewer"},
	"nobody-tok": {},
}

type testHub struct {
	server  *httptest.Server
	store   *store.Store
	metrics *observability.HubMetrics
}

// newTestHub serves the chat handlers behind static-token auth.
func newTestHub(t *testing.T, mutate func(*ChatDeps)) *testHub {
	t.Helper()

	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	metrics := observability.NewHubMetrics(prometheus.NewRegistry())
	opts := extensions.DefaultOptions(testTokens, nil)

	deps := ChatDeps{
		Responder:    NewCatalogResponder(DefaultCatalog()),
		Store:        st,
		Authz:        opts.AuthzProvider,
		Metrics:      metrics,
		PingInterval: time.Hour,
		SendDone:     true,
	}
	if mutate != nil {
		mutate(&deps)
	}

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider, metrics, nil))
	v1.GET("/chat/ws", HandleChatWebSocket(deps))
	v1.GET("/conversations/:sessionId/messages", HandleListMessages(st, opts.AuthzProvider, nil))
	v1.GET("/permissions", HandleGetPermissions(opts.AuthzProvider))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testHub{server: srv, store: st, metrics: metrics}
}

func (h *testHub) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/chat/ws?token=" + token
}

// dialValidated connects, performs the handshake and consumes the
// validation status.
func (h *testHub) dialValidated(t *testing.T, token, sessionID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(chatstream.HandshakeFrame{SessionID: sessionID}))
	frame := readFrame(t, conn)
	require.Equal(t, chatstream.StatusFrame{Message: chatstream.StatusSessionValidated}, frame)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) chatstream.Inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := chatstream.DecodeInbound(data)
	require.NoError(t, err)
	return frame
}

// readTurn collects frames up to and including done.
func readTurn(t *testing.T, conn *websocket.Conn) (text string, artifacts []string, done chatstream.DoneFrame) {
	t.Helper()
	var b strings.Builder
	for {
		switch f := readFrame(t, conn).(type) {
		case chatstream.TokenFrame:
			b.WriteString(f.Token)
		case chatstream.ArtifactFrame:
			artifacts = append(artifacts, f.Name)
		case chatstream.DoneFrame:
			return b.String(), artifacts, f
		case chatstream.PingFrame:
		default:
			t.Fatalf("unexpected frame %#v", f)
		}
	}
}

func submit(t *testing.T, conn *websocket.Conn, query string, opts chatstream.SubmitOptions) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(chatstream.NewSubmitFrame("s-1", query, opts)))
}

// =============================================================================
// Handshake Tests
// =============================================================================

func TestChatWS_RequiresToken(t *testing.T) {
	h := newTestHub(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AuthFailuresTotal))
}

func TestChatWS_RequiresChatCapability(t *testing.T) {
	h := newTestHub(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("nobody-tok"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatWS_InvalidHandshake(t *testing.T) {
	h := newTestHub(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL("viewer-tok"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"hello": "there"}))
	assert.Equal(t, chatstream.StatusFrame{Message: StatusSessionInvalid}, readFrame(t, conn))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

// =============================================================================
// Turn Tests
// =============================================================================

func TestChatWS_StreamsAnswerAndPersists(t *testing.T) {
	h := newTestHub(t, nil)
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	submit(t, conn, "What does GDPR require?", chatstream.SubmitOptions{})
	text, artifacts, done := readTurn(t, conn)

	want, err := NewCatalogResponder(DefaultCatalog()).Answer(context.Background(), TurnRequest{Query: "What does GDPR require?"})
	require.NoError(t, err)
	assert.Equal(t, want.Text, text)
	assert.Empty(t, artifacts)
	require.Len(t, done.Metadata, 1)
	assert.Equal(t, "GDPR", done.Metadata[0].Name)

	assert.Eventually(t, func() bool {
		msgs, _, err := h.store.List("s-1", 1, 10)
		return err == nil && len(msgs) == 1 && msgs[0].Response == want.Text
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmitsTotal.WithLabelValues("none")))
}

func TestChatWS_RedactsStoredQuery(t *testing.T) {
	redactor, err := redact.New()
	require.NoError(t, err)
	h := newTestHub(t, func(d *ChatDeps) { d.Redactor = redactor })
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	submit(t, conn, "Can I email jdoe@example.com under GDPR?", chatstream.SubmitOptions{})
	_, _, done := readTurn(t, conn)
	require.Len(t, done.Metadata, 1)

	assert.Eventually(t, func() bool {
		msgs, _, err := h.store.List("s-1", 1, 10)
		return err == nil && len(msgs) == 1 &&
			msgs[0].Query == "Can I email [REDACTED:EMAIL_ADDRESS] under GDPR?"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RedactionsTotal.WithLabelValues("pii")))
}

func TestChatWS_RoutingMarker(t *testing.T) {
	h := newTestHub(t, nil)
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	submit(t, conn, "#risk_score Build my AI risk score", chatstream.SubmitOptions{})
	_, artifacts, _ := readTurn(t, conn)
	assert.Equal(t, []string{chatstream.ArtifactShowForm}, artifacts)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SubmitsTotal.WithLabelValues("risk_score")))

	assert.Eventually(t, func() bool {
		msgs, _, err := h.store.List("s-1", 1, 10)
		return err == nil && len(msgs) == 1 && msgs[0].Query == "Build my AI risk score" && msgs[0].ShowForm
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatWS_BuildScoreRequiresCapability(t *testing.T) {
	tests := []struct {
		token     string
		wantForms int
	}{
		{"viewer-tok", 0},
		{"admin-tok", 1},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			h := newTestHub(t, nil)
			conn := h.dialValidated(t, tt.token, "s-1")

			submit(t, conn, "CCPA", chatstream.SubmitOptions{BuildScore: true})
			_, artifacts, _ := readTurn(t, conn)
			assert.Len(t, artifacts, tt.wantForms)
		})
	}
}

func TestChatWS_WithoutDoneFrame(t *testing.T) {
	h := newTestHub(t, func(d *ChatDeps) { d.SendDone = false })
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	submit(t, conn, "GDPR", chatstream.SubmitOptions{})
	want, err := NewCatalogResponder(DefaultCatalog()).Answer(context.Background(), TurnRequest{Query: "GDPR"})
	require.NoError(t, err)

	var b strings.Builder
	for b.Len() < len(want.Text) {
		f, ok := readFrame(t, conn).(chatstream.TokenFrame)
		require.True(t, ok)
		b.WriteString(f.Token)
	}
	assert.Equal(t, want.Text, b.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "no frame should follow the last token")
}

// blockingResponder holds every answer until release is closed.
type blockingResponder struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingResponder) Answer(ctx context.Context, req TurnRequest) (Answer, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	select {
	case <-b.release:
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}
	return Answer{Text: "answer to " + req.Query}, nil
}

func TestChatWS_SubmitDuringTurnIgnored(t *testing.T) {
	responder := &blockingResponder{release: make(chan struct{})}
	h := newTestHub(t, func(d *ChatDeps) { d.Responder = responder })
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	submit(t, conn, "first", chatstream.SubmitOptions{})
	submit(t, conn, "second", chatstream.SubmitOptions{})
	// The reader handles frames in order, so a counted pong means both
	// submits were seen.
	require.NoError(t, conn.WriteJSON(chatstream.PongFrame{Type: chatstream.FrameTypePong}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.PongsTotal) == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(responder.release)
	text, _, _ := readTurn(t, conn)
	assert.Equal(t, "answer to first", text)

	responder.mu.Lock()
	assert.Equal(t, 1, responder.calls)
	responder.mu.Unlock()
}

// failingResponder never produces an answer.
type failingResponder struct{}

func (failingResponder) Answer(context.Context, TurnRequest) (Answer, error) {
	return Answer{}, errors.New("model unavailable")
}

func TestChatWS_ResponderFailureEndsTurn(t *testing.T) {
	tests := []struct {
		name     string
		sendDone bool
	}{
		{"with done frame", true},
		{"idle only", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t, func(d *ChatDeps) {
				d.Responder = failingResponder{}
				d.SendDone = tt.sendDone
			})
			conn := h.dialValidated(t, "viewer-tok", "s-1")

			submit(t, conn, "GDPR", chatstream.SubmitOptions{})
			if tt.sendDone {
				text, artifacts, done := readTurn(t, conn)
				assert.Equal(t, TurnFailedText, text)
				assert.Empty(t, artifacts)
				assert.Empty(t, done.Metadata)
			} else {
				f, ok := readFrame(t, conn).(chatstream.TokenFrame)
				require.True(t, ok)
				assert.Equal(t, TurnFailedText, f.Token)
			}

			_, _, err := h.store.List("s-1", 1, 10)
			assert.ErrorIs(t, err, store.ErrNotFound)
			assert.Eventually(t, func() bool {
				return testutil.ToFloat64(h.metrics.TokensStreamed) == 1
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestChatWS_SendsPings(t *testing.T) {
	h := newTestHub(t, func(d *ChatDeps) { d.PingInterval = 20 * time.Millisecond })
	conn := h.dialValidated(t, "viewer-tok", "s-1")

	assert.Equal(t, chatstream.PingFrame{}, readFrame(t, conn))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveSessions))
}

func TestChatWS_SessionGaugeDropsOnClose(t *testing.T) {
	h := newTestHub(t, nil)
	conn := h.dialValidated(t, "viewer-tok", "s-1")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ActiveSessions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.ActiveSessions) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// REST Tests
// =============================================================================

func getJSON(t *testing.T, h *testHub, path, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.server.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
