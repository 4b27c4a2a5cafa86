// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/services/hub/handlers"
	"github.com/AleutianAI/govchat/services/hub/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newDeps(t *testing.T, withMetrics bool) Deps {
	t.Helper()
	st, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := extensions.DefaultOptions(map[string][]string{"tok": {"viewer"}}, nil)
	deps := Deps{
		Options: opts,
		Chat: handlers.ChatDeps{
			Responder: handlers.NewCatalogResponder(handlers.DefaultCatalog()),
			Store:     st,
			Authz:     opts.AuthzProvider,
		},
	}
	if withMetrics {
		deps.MetricsHandler = promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return deps
}

func TestSetupRoutes_Registered(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, true))

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/v1/chat/ws"},
		{"GET", "/v1/conversations/:sessionId/messages"},
		{"GET", "/v1/permissions"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_NoMetricsHandler(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, false))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_Auth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t, false))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"v1 needs a token", "/v1/permissions", "", http.StatusUnauthorized},
		{"valid token", "/v1/permissions", "Bearer tok", http.StatusOK},
		{"wrong token", "/v1/permissions", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
