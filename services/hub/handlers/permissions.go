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
	"net/http"

	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/gin-gonic/gin"
)

// HandleGetPermissions serves GET /v1/permissions: the caller's
// capability map, keyed by feature.
func HandleGetPermissions(authz extensions.AuthzProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetAuthInfo(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.JSON(http.StatusOK, authz.Capabilities(c.Request.Context(), user))
	}
}

// HandleHealth serves GET /health.
func HandleHealth(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": service})
	}
}
