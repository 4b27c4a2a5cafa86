// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) Token() (string, bool) { return string(s), s != "" }

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		Tokens:         staticTokens("tok"),
		PageSize:       2,
		PagesPerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url", Tokens: staticTokens("x")})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestListMessages_SendsBearerAndPaging(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/conversations/sess%201/messages", r.URL.EscapedPath())
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("page_size"))

		_ = json.NewEncoder(w).Encode(MessagePage{
			SessionID: "sess 1",
			Page:      3,
			Messages:  []chatstream.Message{{ID: "m1", Query: "q", Response: "a"}},
		})
	}))

	page, err := c.ListMessages(context.Background(), "sess 1", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "a", page.Messages[0].Response)
}

func TestAllMessages_WalksPagesInOrder(t *testing.T) {
	const total = 5
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

		var msgs []chatstream.Message
		for i := (page - 1) * size; i < page*size && i < total; i++ {
			msgs = append(msgs, chatstream.Message{ID: fmt.Sprintf("m%d", i)})
		}
		_ = json.NewEncoder(w).Encode(MessagePage{
			Page:     page,
			PageSize: size,
			Total:    total,
			HasMore:  page*size < total,
			Messages: msgs,
		})
	}))

	msgs, err := c.AllMessages(context.Background(), "s")
	require.NoError(t, err)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids)
}

func TestCapabilities(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/permissions", r.URL.Path)
		_, _ = w.Write([]byte(`{"chat":{"read":true,"create":true},"build_score":{"create":true}}`))
	}))

	caps, err := c.Capabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.Allows(access.FeatureBuildScore, access.ActionCreate))
	assert.False(t, caps.Allows(access.FeatureHistory, access.ActionRead))
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))

	_, err := c.Capabilities(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "invalid token", se.Message)
	assert.True(t, IsUnauthorized(err))
	assert.Contains(t, err.Error(), "401 invalid token")
}

func TestNoToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Tokens: staticTokens("")})
	require.NoError(t, err)

	_, err = c.ListMessages(context.Background(), "s", 1, 1)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestAllMessages_ContextCancelled(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AllMessages(ctx, "s")
	assert.Error(t, err)
}
