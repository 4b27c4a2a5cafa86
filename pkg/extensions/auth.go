// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/AleutianAI/govchat/pkg/access"
)

// ErrUnauthorized is returned when authentication fails. Implementations
// wrap it with context:
//
//	return nil, fmt.Errorf("unknown token: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated caller lacks a capability.
var ErrForbidden = errors.New("forbidden")

// =============================================================================
// Authentication
// =============================================================================

// AuthInfo is the identity resolved from a token.
type AuthInfo struct {
	// UserID identifies the caller. Never empty.
	UserID string

	// Roles are looked up in the role table to build Capabilities.
	Roles []string
}

// HasRole reports whether the caller has role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates tokens.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the caller identity or an error wrapping
	// ErrUnauthorized for an empty or unknown token.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// StaticTokenProvider maps fixed tokens to role lists. It backs the
// development hub, where tokens come from the config file.
type StaticTokenProvider struct {
	tokens map[string][]string
	ids    map[string]string
}

// NewStaticTokenProvider creates a provider. Each token's UserID is
// "user-N" in sorted token order, so IDs are stable across restarts
// without exposing the token itself.
func NewStaticTokenProvider(tokens map[string][]string) *StaticTokenProvider {
	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &StaticTokenProvider{
		tokens: make(map[string][]string, len(tokens)),
		ids:    make(map[string]string, len(tokens)),
	}
	for i, k := range keys {
		p.tokens[k] = append([]string(nil), tokens[k]...)
		p.ids[k] = fmt.Sprintf("user-%d", i+1)
	}
	return p
}

// Validate implements AuthProvider. Tokens are compared in constant time.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	for known, roles := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return &AuthInfo{
				UserID: p.ids[known],
				Roles:  append([]string(nil), roles...),
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
}

// =============================================================================
// Authorization
// =============================================================================

// AuthzRequest asks whether User may perform Action on Feature.
type AuthzRequest struct {
	User    *AuthInfo
	Feature access.FeatureKey
	Action  access.Action
}

// AuthzProvider checks capabilities.
type AuthzProvider interface {
	// Authorize returns nil when allowed, or an error wrapping ErrForbidden.
	Authorize(ctx context.Context, req AuthzRequest) error

	// Capabilities returns the full capability map for user.
	Capabilities(ctx context.Context, user *AuthInfo) access.Capabilities
}

// RoleAuthorizer grants the union of the caller's role capabilities.
type RoleAuthorizer struct {
	roles access.Roles
}

// NewRoleAuthorizer creates an authorizer. A nil table uses
// access.DefaultRoles.
func NewRoleAuthorizer(roles access.Roles) *RoleAuthorizer {
	if roles == nil {
		roles = access.DefaultRoles()
	}
	return &RoleAuthorizer{roles: roles}
}

// Capabilities implements AuthzProvider.
func (a *RoleAuthorizer) Capabilities(_ context.Context, user *AuthInfo) access.Capabilities {
	if user == nil {
		return access.Capabilities{}
	}
	return access.ForRoles(a.roles, user.Roles)
}

// Authorize implements AuthzProvider.
func (a *RoleAuthorizer) Authorize(ctx context.Context, req AuthzRequest) error {
	if a.Capabilities(ctx, req.User).Allows(req.Feature, req.Action) {
		return nil
	}
	return fmt.Errorf("%s %s: %w", req.Action, req.Feature, ErrForbidden)
}

var (
	_ AuthProvider  = (*StaticTokenProvider)(nil)
	_ AuthzProvider = (*RoleAuthorizer)(nil)
)
