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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/api"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/AleutianAI/govchat/pkg/extensions"
	"github.com/AleutianAI/govchat/pkg/validation"
	"github.com/AleutianAI/govchat/services/hub/middleware"
	"github.com/AleutianAI/govchat/services/hub/store"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// HandleListMessages serves GET /v1/conversations/:sessionId/messages.
//
// Query parameters page (1-based, default 1) and page_size (default 50,
// at most 500). A session without stored turns returns an empty page
// rather than 404, so a client can always seed from the response.
func HandleListMessages(turns TurnStore, authz extensions.AuthzProvider, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		if !authorize(c, authz, access.FeatureHistory, access.ActionRead) {
			return
		}

		sessionID := c.Param("sessionId")
		if err := validation.ValidateSessionID(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		page, ok := intQuery(c, "page", 1, 1, 0)
		if !ok {
			return
		}
		pageSize, ok := intQuery(c, "page_size", defaultPageSize, 1, maxPageSize)
		if !ok {
			return
		}

		msgs, total, err := turns.List(sessionID, page, pageSize)
		switch {
		case errors.Is(err, store.ErrNotFound):
			msgs, total = nil, 0
		case err != nil:
			logger.Error("failed to list messages", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
			return
		}
		if msgs == nil {
			msgs = []chatstream.Message{}
		}

		c.JSON(http.StatusOK, api.MessagePage{
			SessionID: sessionID,
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			HasMore:   page*pageSize < total,
			Messages:  msgs,
		})
	}
}

// intQuery parses an integer query parameter within [lo, hi]; hi 0 means
// unbounded. It writes a 400 and returns false on bad input.
func intQuery(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

// authorize writes 401 or 403 and returns false when the caller may not
// perform action on feature.
func authorize(c *gin.Context, authz extensions.AuthzProvider, feature access.FeatureKey, action access.Action) bool {
	user := middleware.GetAuthInfo(c)
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	err := authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
		User: user, Feature: feature, Action: action,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return false
	}
	return true
}
