// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides Gin middleware for the chat hub.
//
// # Description
//
// AuthMiddleware resolves the caller identity and stores it in the Gin
// context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Token from "Authorization: Bearer <token>"
//	   │     or, for WebSocket upgrades, the "token" query parameter
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// Browsers and most WebSocket clients cannot set headers on the upgrade
// request, which is why the query credential is accepted.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/observability"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the Gin context key for the caller's AuthInfo.
const authInfoKey = "govchat_auth_info"

// tokenQueryParam carries the credential on WebSocket upgrades.
const tokenQueryParam = "token"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated caller in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller stored by AuthMiddleware, or nil if the
// request was not authenticated.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Inputs
//
//   - provider: Validates tokens. Must not be nil.
//   - metrics: Counts rejected credentials. May be nil.
//   - logger: Logs rejections without the token itself. May be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 401 {"error": "unauthorized"} when the
//     token is missing or unknown, and with 401 {"error": "authentication
//     failed"} when the provider itself fails.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider, metrics *observability.HubMetrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		token := extractToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			metrics.RecordAuthFailure()
			logger.Warn("request rejected",
				"path", c.FullPath(),
				"token_present", token != "",
				"error", err)

			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractToken prefers the Authorization header and falls back to the
// token query parameter.
func extractToken(c *gin.Context) string {
	if token := extractBearerToken(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.Query(tokenQueryParam))
}

// extractBearerToken parses "Bearer <token>". The scheme is matched
// case-insensitively; anything else yields "".
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
