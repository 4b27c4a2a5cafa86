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
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/AleutianAI/govchat/pkg/validation"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/AleutianAI/govchat/services/hub/redact"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// StatusSessionInvalid is sent before closing a socket whose handshake
	// carried no usable session id.
	StatusSessionInvalid = "session_invalid"

	// TurnFailedText is streamed in place of an answer when the responder
	// fails, so the client's turn still finalizes.
	TurnFailedText = "The answer could not be generated. Please try again."

	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	writeTimeout            = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// errClientGone ends a session's errgroup when the reader stops.
var errClientGone = errors.New("client disconnected")

// =============================================================================
// Server Frames
// =============================================================================

type statusFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pingFrame struct {
	Type string `json:"type"`
}

type tokenFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type artifactFrame struct {
	Artifact string `json:"artifact"`
}

type doneFrame struct {
	Type     string                      `json:"type"`
	Metadata []chatstream.MetadataRecord `json:"metadata"`
}

// clientFrame is the union of the frames a client sends after the
// handshake: submits and pongs.
type clientFrame struct {
	Type string `json:"type"`
	chatstream.SubmitFrame
}

// =============================================================================
// Dependencies
// =============================================================================

// TurnStore persists finished turns.
type TurnStore interface {
	Append(sessionID string, msg chatstream.Message) (uint64, error)
	List(sessionID string, page, pageSize int) ([]chatstream.Message, int, error)
}

// ChatDeps configures HandleChatWebSocket.
type ChatDeps struct {
	Responder Responder
	Store     TurnStore
	Authz     extensions.AuthzProvider
	Metrics   *observability.HubMetrics
	Logger    *slog.Logger

	// Redactor scrubs queries before they are stored. Nil stores them as sent.
	Redactor *redact.Redactor

	// Markers is the routing marker table shared with clients.
	Markers map[string]string

	// TokensPerSecond paces token frames. Zero or less streams unpaced.
	TokensPerSecond float64

	PingInterval     time.Duration
	HandshakeTimeout time.Duration

	// SendDone false omits the done frame so the client finalizes on idle.
	SendDone bool

	Now   func() time.Time
	NewID func() string
}

func (d *ChatDeps) applyDefaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Markers == nil {
		d.Markers = chatstream.DefaultRoutingMarkers()
	}
	if d.PingInterval <= 0 {
		d.PingInterval = defaultPingInterval
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = defaultHandshakeTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = func() string { return uuid.New().String() }
	}
}

// =============================================================================
// Handler
// =============================================================================

// HandleChatWebSocket serves GET /v1/chat/ws.
//
// # Description
//
// The caller must hold chat:create. After the upgrade the client sends
// {"session_id": ...}; the hub answers {"type":"status","message":
// "session_validated"} and from then on:
//
//   - sends {"type":"ping"} every PingInterval and counts pongs
//   - answers each submit with token frames, an optional artifact frame
//     and, when SendDone, a done frame carrying citations
//   - ignores a submit that arrives while a turn is still streaming
//
// Flags the caller has no capability for are dropped before answering.
//
// # Thread Safety
//
// Each connection has one reader, one pinger and at most one turn
// goroutine. Writes are serialized per connection.
func HandleChatWebSocket(deps ChatDeps) gin.HandlerFunc {
	deps.applyDefaults()

	return func(c *gin.Context) {
		if !authorize(c, deps.Authz, access.FeatureChat, access.ActionCreate) {
			return
		}
		user := middleware.GetAuthInfo(c)
		ctx := c.Request.Context()
		caps := deps.Authz.Capabilities(ctx, user)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		s := &chatSession{
			ws:     ws,
			deps:   deps,
			userID: user.UserID,
			caps:   caps,
			prefix: MarkerPrefixes(deps.Markers),
		}
		s.run(ctx)
	}
}

// chatSession is the hub side of one chat socket.
type chatSession struct {
	ws     *websocket.Conn
	deps   ChatDeps
	userID string
	caps   access.Capabilities
	prefix []string

	sessionID string
	writeMu   sync.Mutex
	busy      atomic.Bool
}

func (s *chatSession) run(ctx context.Context) {
	log := s.deps.Logger.With("user_id", s.userID)

	sessionID, err := s.handshake()
	if err != nil {
		log.Warn("chat handshake rejected", "error", err)
		_ = s.write(statusFrame{Type: chatstream.FrameTypeStatus, Message: StatusSessionInvalid})
		s.close(websocket.ClosePolicyViolation, "invalid session")
		return
	}
	s.sessionID = sessionID
	log = log.With("session_id", sessionID)

	if err := s.write(statusFrame{Type: chatstream.FrameTypeStatus, Message: chatstream.StatusSessionValidated}); err != nil {
		log.Warn("failed to validate session", "error", err)
		return
	}
	s.deps.Metrics.SessionOpened()
	defer s.deps.Metrics.SessionClosed()
	log.Info("chat session validated")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pingLoop(gctx) })
	g.Go(func() error { return s.readLoop(gctx, g, log) })
	g.Go(func() error {
		// Unblocks the reader when the request context or the pinger ends.
		<-gctx.Done()
		_ = s.ws.SetReadDeadline(time.Now())
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, errClientGone) && !errors.Is(err, context.Canceled) {
		log.Warn("chat session ended with error", "error", err)
	}
	s.close(websocket.CloseNormalClosure, "")
	log.Info("chat session closed")
}

// handshake reads the first frame and returns its session id.
func (s *chatSession) handshake() (string, error) {
	_ = s.ws.SetReadDeadline(time.Now().Add(s.deps.HandshakeTimeout))
	defer s.ws.SetReadDeadline(time.Time{})

	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	var hs chatstream.HandshakeFrame
	if err := json.Unmarshal(data, &hs); err != nil {
		return "", err
	}
	id, err := validation.SanitizeSessionID(hs.SessionID)
	if err != nil {
		return "", fmt.Errorf("handshake: %w", err)
	}
	return id, nil
}

func (s *chatSession) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.deps.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.write(pingFrame{Type: chatstream.FrameTypePing}); err != nil {
				return err
			}
		}
	}
}

func (s *chatSession) readLoop(ctx context.Context, g *errgroup.Group, log *slog.Logger) error {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("chat client disconnected", "error", err)
			}
			return errClientGone
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn("ignoring malformed client frame", "error", err)
			continue
		}

		switch {
		case frame.Type == chatstream.FrameTypePong:
			s.deps.Metrics.RecordPong()
		case frame.Type == "" && frame.UserQuery != "":
			if !s.busy.CompareAndSwap(false, true) {
				log.Warn("submit ignored, turn in flight")
				continue
			}
			submit := frame.SubmitFrame
			g.Go(func() error {
				defer s.busy.Store(false)
				s.runTurn(ctx, submit, log)
				return nil
			})
		default:
			log.Debug("ignoring client frame", "type", frame.Type)
		}
	}
}

// runTurn answers one submit and persists the finished turn.
func (s *chatSession) runTurn(ctx context.Context, submit chatstream.SubmitFrame, log *slog.Logger) {
	route, query := ParseRoute(submit.UserQuery, s.prefix)
	req := s.turnRequest(route, query, submit)
	s.deps.Metrics.RecordSubmit(route.Label())

	ctx, span := otel.Tracer("govchat/hub").Start(ctx, "chat.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", s.sessionID),
		attribute.String("chat.route", route.Label()),
		attribute.Bool("chat.build_score", req.BuildScore),
	)

	started := s.deps.Now()
	ans, err := s.deps.Responder.Answer(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "responder failed")
		log.Error("responder failed", "route", route.Label(), "error", err)
		s.failTurn(ctx, log)
		return
	}

	limit := rate.Inf
	if s.deps.TokensPerSecond > 0 {
		limit = rate.Limit(s.deps.TokensPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	tokens := Tokenize(ans.Text)
	for _, tok := range tokens {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := s.write(tokenFrame{Type: chatstream.FrameTypeToken, Token: tok}); err != nil {
			log.Warn("token write failed", "error", err)
			return
		}
		s.deps.Metrics.RecordToken()
	}
	span.SetAttributes(attribute.Int("chat.tokens", len(tokens)))

	if ans.Artifact != "" {
		if err := s.write(artifactFrame{Artifact: ans.Artifact}); err != nil {
			log.Warn("artifact write failed", "error", err)
			return
		}
	}

	msg := chatstream.Message{
		ID:           s.deps.NewID(),
		Query:        s.scrub(query, log),
		Response:     ans.Text,
		CollectionID: req.CollectionID,
		ShowForm:     ans.Artifact == chatstream.ArtifactShowForm,
		CreatedAt:    started,
	}
	if s.deps.SendDone {
		if err := s.write(doneFrame{Type: chatstream.FrameTypeDone, Metadata: ans.Citations}); err != nil {
			log.Warn("done write failed", "error", err)
			return
		}
		msg.Metadata = ans.Citations
	}
	msg.FinishedAt = s.deps.Now()

	if s.deps.Store != nil {
		if _, err := s.deps.Store.Append(s.sessionID, msg); err != nil {
			log.Error("failed to persist turn", "error", err)
		}
	}
	log.Info("chat turn answered",
		"route", route.Label(),
		"tokens", len(tokens),
		"citations", len(ans.Citations),
		"duration_ms", msg.FinishedAt.Sub(started).Milliseconds())
}

// failTurn ends a turn that has no answer. The failure text is a token so
// a client without done frames finalizes on idle; nothing is stored.
func (s *chatSession) failTurn(ctx context.Context, log *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	if err := s.write(tokenFrame{Type: chatstream.FrameTypeToken, Token: TurnFailedText}); err != nil {
		log.Warn("failure token write failed", "error", err)
		return
	}
	s.deps.Metrics.RecordToken()
	if s.deps.SendDone {
		if err := s.write(doneFrame{Type: chatstream.FrameTypeDone, Metadata: []chatstream.MetadataRecord{}}); err != nil {
			log.Warn("done write failed", "error", err)
		}
	}
}

// scrub redacts query for storage. The live answer is unaffected.
func (s *chatSession) scrub(query string, log *slog.Logger) string {
	if s.deps.Redactor == nil {
		return query
	}
	scrubbed, findings := s.deps.Redactor.Redact(query)
	for _, f := range findings {
		s.deps.Metrics.RecordRedaction(f.Classification)
	}
	if len(findings) > 0 {
		log.Info("query redacted before storage",
			"findings", len(findings),
			"classification", findings[0].Classification)
	}
	return scrubbed
}

// turnRequest applies the caller's capabilities to the submit flags.
func (s *chatSession) turnRequest(route Route, query string, submit chatstream.SubmitFrame) TurnRequest {
	req := TurnRequest{Query: query, Route: route}
	if submit.BuildScore != nil && *submit.BuildScore &&
		s.caps.Allows(access.FeatureBuildScore, access.ActionCreate) {
		req.BuildScore = true
	}
	if submit.AssessmentRAG && s.caps.Allows(access.FeatureAssessmentRAG, access.ActionCreate) {
		req.AssessmentRAG = true
	}
	if submit.CollectionID != nil && validation.ValidateCollectionID(*submit.CollectionID) == nil &&
		s.caps.Allows(access.FeatureAttachCollection, access.ActionCreate) {
		req.CollectionID = *submit.CollectionID
	}
	return req
}

func (s *chatSession) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteJSON(v)
}

func (s *chatSession) close(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
}
