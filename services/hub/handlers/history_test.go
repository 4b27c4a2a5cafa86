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
	"fmt"
	"net/http"
	"testing"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/api"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListMessages(t *testing.T) {
	h := newTestHub(t, nil)
	for i := 0; i < 7; i++ {
		_, err := h.store.Append("s-9", chatstream.Message{ID: fmt.Sprintf("m%d", i), Query: "q"})
		require.NoError(t, err)
	}

	var page api.MessagePage
	code := getJSON(t, h, "/v1/conversations/s-9/messages?page=1&page_size=5", "viewer-tok", &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 7, page.Total)
	assert.True(t, page.HasMore)
	assert.Len(t, page.Messages, 5)
	assert.Equal(t, "m0", page.Messages[0].ID)

	page = api.MessagePage{}
	code = getJSON(t, h, "/v1/conversations/s-9/messages?page=2&page_size=5", "viewer-tok", &page)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, page.HasMore)
	assert.Len(t, page.Messages, 2)
}

func TestListMessages_UnknownSessionIsEmpty(t *testing.T) {
	h := newTestHub(t, nil)

	var page api.MessagePage
	code := getJSON(t, h, "/v1/conversations/none/messages", "viewer-tok", &page)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.Equal(t, defaultPageSize, page.PageSize)
}

func TestListMessages_Errors(t *testing.T) {
	h := newTestHub(t, nil)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"bad page", "/v1/conversations/s/messages?page=0", "viewer-tok", http.StatusBadRequest},
		{"bad page size", "/v1/conversations/s/messages?page_size=501", "viewer-tok", http.StatusBadRequest},
		{"not a number", "/v1/conversations/s/messages?page=x", "viewer-tok", http.StatusBadRequest},
		{"bad session id", "/v1/conversations/bad%20id/messages", "viewer-tok", http.StatusBadRequest},
		{"no history capability", "/v1/conversations/s/messages", "nobody-tok", http.StatusForbidden},
		{"no token", "/v1/conversations/s/messages", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getJSON(t, h, tt.path, tt.token, nil))
		})
	}
}

func TestGetPermissions(t *testing.T) {
	h := newTestHub(t, nil)

	var caps access.Capabilities
	require.Equal(t, http.StatusOK, getJSON(t, h, "/v1/permissions", "viewer-tok", &caps))
	assert.True(t, caps.Allows(access.FeatureChat, access.ActionCreate))
	assert.False(t, caps.Allows(access.FeatureBuildScore, access.ActionCreate))

	caps = nil
	require.Equal(t, http.StatusOK, getJSON(t, h, "/v1/permissions", "nobody-tok", &caps))
	assert.Empty(t, caps)
}
