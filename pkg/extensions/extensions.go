// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable identity and permission
// providers used by the hub.
//
// The development hub resolves static tokens from its config file and
// maps roles to capabilities with access.Roles. A deployment in front of
// a real identity provider injects its own implementations:
//
//	opts := extensions.DefaultOptions(cfg.Tokens, roles).
//	    WithAuth(oidcProvider)
//	svc, err := hub.New(cfg, &opts, logger, registry)
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

import "github.com/AleutianAI/govchat/pkg/access"

// ServiceOptions groups the extension points of a service.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	AuthProvider AuthProvider

	// AuthzProvider resolves capabilities.
	AuthzProvider AuthzProvider
}

// DefaultOptions returns static-token authentication and role-based
// authorization. A nil roles table uses access.DefaultRoles.
func DefaultOptions(tokens map[string][]string, roles access.Roles) ServiceOptions {
	return ServiceOptions{
		AuthProvider:  NewStaticTokenProvider(tokens),
		AuthzProvider: NewRoleAuthorizer(roles),
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}
