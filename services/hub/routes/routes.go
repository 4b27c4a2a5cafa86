// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes mounts the hub's HTTP surface on a Gin engine.
package routes

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/AleutianAI/govchat/services/hub/handlers"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Options extensions.ServiceOptions
	Chat    handlers.ChatDeps
	Metrics *observability.HubMetrics
	Logger  *slog.Logger

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
}

// SetupRoutes registers:
//
//	GET /health
//	GET /metrics                               (when MetricsHandler is set)
//	GET /v1/chat/ws                            chat:create
//	GET /v1/conversations/:sessionId/messages  history:read
//	GET /v1/permissions
//
// Everything under /v1 requires a token.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HandleHealth("govchat-hub"))
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Options.AuthProvider, deps.Metrics, deps.Logger))
	{
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Chat))
		v1.GET("/conversations/:sessionId/messages",
			handlers.HandleListMessages(deps.Chat.Store, deps.Options.AuthzProvider, deps.Logger))
		v1.GET("/permissions", handlers.HandleGetPermissions(deps.Options.AuthzProvider))
	}
}
