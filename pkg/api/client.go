// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the REST client for conversation history and caller
// permissions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/auth"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrNoToken is returned when the token accessor has nothing to send.
var ErrNoToken = errors.New("no auth token available; run `govchat login`")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	// Method and URL of the failed request.
	Method string
	URL    string

	// StatusCode is the HTTP status.
	StatusCode int

	// Message is the server's "error" field, or the raw body prefix.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 or 403 StatusError.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// MessagePage is one page of a conversation history.
type MessagePage struct {
	SessionID string               `json:"session_id"`
	Page      int                  `json:"page"`
	PageSize  int                  `json:"page_size"`
	Total     int                  `json:"total"`
	HasMore   bool                 `json:"has_more"`
	Messages  []chatstream.Message `json:"messages"`
}

// Config configures a Client.
type Config struct {
	// BaseURL of the REST API, e.g. "http://localhost:8090".
	BaseURL string

	// Tokens supplies the bearer token per request.
	Tokens auth.TokenSource

	// PageSize used by AllMessages. Default: 50.
	PageSize int

	// PagesPerSecond paces AllMessages. Default: 5.
	PagesPerSecond float64

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// HistoryReader loads persisted turns of a conversation.
type HistoryReader interface {
	ListMessages(ctx context.Context, sessionID string, page, pageSize int) (MessagePage, error)
	AllMessages(ctx context.Context, sessionID string) ([]chatstream.Message, error)
}

// PermissionReader loads the caller's capability map.
type PermissionReader interface {
	Capabilities(ctx context.Context) (access.Capabilities, error)
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client implements HistoryReader and PermissionReader over HTTP.
type Client struct {
	baseURL  string
	tokens   auth.TokenSource
	http     *http.Client
	pageSize int
	limiter  *rate.Limiter
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	if cfg.Tokens == nil {
		return nil, errors.New("api: token source is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.PagesPerSecond <= 0 {
		cfg.PagesPerSecond = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:   cfg.Tokens,
		http:     cfg.HTTPClient,
		pageSize: cfg.PageSize,
		limiter:  rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1),
	}, nil
}

// ListMessages fetches one page (1-based) of a conversation.
func (c *Client) ListMessages(ctx context.Context, sessionID string, page, pageSize int) (MessagePage, error) {
	if sessionID == "" {
		return MessagePage{}, errors.New("session id is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	path := "/v1/conversations/" + url.PathEscape(sessionID) + "/messages?" + q.Encode()

	var out MessagePage
	if err := c.getJSON(ctx, path, &out); err != nil {
		return MessagePage{}, err
	}
	return out, nil
}

// AllMessages walks every page in order, paced by the client's limiter.
func (c *Client) AllMessages(ctx context.Context, sessionID string) ([]chatstream.Message, error) {
	var all []chatstream.Message
	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for page %d: %w", page, err)
		}
		p, err := c.ListMessages(ctx, sessionID, page, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Messages...)
		if !p.HasMore || len(p.Messages) == 0 {
			return all, nil
		}
	}
}

// Capabilities fetches the caller's capability map.
func (c *Client) Capabilities(ctx context.Context) (access.Capabilities, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/v1/permissions", &raw); err != nil {
		return nil, err
	}
	return access.Parse(raw)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	token, ok := c.tokens.Token()
	if !ok {
		return ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(req, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func newStatusError(req *http.Request, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &StatusError{
		Method:     req.Method,
		URL:        req.URL.Path,
		StatusCode: resp.StatusCode,
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
	} else {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

var (
	_ HistoryReader    = (*Client)(nil)
	_ PermissionReader = (*Client)(nil)
)
