// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access maps chat features to the actions a caller may perform.
//
// Capabilities are keyed by stable feature names rather than by position,
// so adding a feature never shifts the meaning of another:
//
//	caps := access.ForRoles(access.DefaultRoles(), []string{"analyst"})
//	if caps.Allows(access.FeatureBuildScore, access.ActionCreate) { ... }
package access

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// FeatureKey identifies a chat feature.
type FeatureKey string

const (
	FeatureChat             FeatureKey = "chat"
	FeatureAttachCollection FeatureKey = "attach_collection"
	FeatureBuildScore       FeatureKey = "build_score"
	FeatureAssessmentRAG    FeatureKey = "assessment_rag"
	FeatureStopStream       FeatureKey = "stop_stream"
	FeatureHistory          FeatureKey = "history"
)

// KnownFeatures lists every feature in display order.
var KnownFeatures = []FeatureKey{
	FeatureChat,
	FeatureAttachCollection,
	FeatureBuildScore,
	FeatureAssessmentRAG,
	FeatureStopStream,
	FeatureHistory,
}

func isKnown(f FeatureKey) bool {
	for _, k := range KnownFeatures {
		if k == f {
			return true
		}
	}
	return false
}

// Action is one of the CRUD verbs of a PermissionSet.
type Action int

const (
	ActionRead Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PermissionSet is the CRUD grant for one feature.
type PermissionSet struct {
	Read   bool `json:"read" yaml:"read"`
	Create bool `json:"create" yaml:"create"`
	Update bool `json:"update" yaml:"update"`
	Delete bool `json:"delete" yaml:"delete"`
}

// Allows reports whether the action is granted.
func (p PermissionSet) Allows(a Action) bool {
	switch a {
	case ActionRead:
		return p.Read
	case ActionCreate:
		return p.Create
	case ActionUpdate:
		return p.Update
	case ActionDelete:
		return p.Delete
	default:
		return false
	}
}

// union grants everything either set grants.
func (p PermissionSet) union(o PermissionSet) PermissionSet {
	return PermissionSet{
		Read:   p.Read || o.Read,
		Create: p.Create || o.Create,
		Update: p.Update || o.Update,
		Delete: p.Delete || o.Delete,
	}
}

// Capabilities is the read-only permission object consumed by the UI.
type Capabilities map[FeatureKey]PermissionSet

// Allows reports whether action is granted on feature. Unknown or missing
// features grant nothing.
func (c Capabilities) Allows(feature FeatureKey, action Action) bool {
	p, ok := c[feature]
	return ok && p.Allows(action)
}

// Features returns the granted feature keys, sorted.
func (c Capabilities) Features() []FeatureKey {
	out := make([]FeatureKey, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Capabilities) validate() error {
	for k := range c {
		if !isKnown(k) {
			return fmt.Errorf("unknown feature %q", k)
		}
	}
	return nil
}

// Default grants plain chat only.
func Default() Capabilities {
	return Capabilities{
		FeatureChat: {Read: true, Create: true},
	}
}

// Parse decodes a JSON capability map. Unknown features are rejected.
func Parse(data []byte) (Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	if err := caps.validate(); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}
	return caps, nil
}

// =============================================================================
// Roles
// =============================================================================

// Roles maps a role name to its capabilities.
type Roles map[string]Capabilities

// DefaultRoles is the built-in role table of the hub.
func DefaultRoles() Roles {
	full := PermissionSet{Read: true, Create: true, Update: true, Delete: true}
	rc := PermissionSet{Read: true, Create: true}
	return Roles{
		"viewer": {
			FeatureChat:    rc,
			FeatureHistory: {Read: true},
		},
		"analyst": {
			FeatureChat:             rc,
			FeatureHistory:          {Read: true},
			FeatureAttachCollection: rc,
			FeatureAssessmentRAG:    rc,
			FeatureStopStream:       rc,
		},
		"admin": {
			FeatureChat:             full,
			FeatureHistory:          full,
			FeatureAttachCollection: full,
			FeatureAssessmentRAG:    full,
			FeatureBuildScore:       full,
			FeatureStopStream:       full,
		},
	}
}

// ForRoles merges the capabilities of every named role. Unknown role
// names contribute nothing.
func ForRoles(table Roles, roles []string) Capabilities {
	out := Capabilities{}
	for _, r := range roles {
		for k, p := range table[r] {
			out[k] = out[k].union(p)
		}
	}
	return out
}

// LoadRolesFile reads a YAML role table:
//
//	analyst:
//	  chat: {read: true, create: true}
//	  history: {read: true}
func LoadRolesFile(path string) (Roles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	var roles Roles
	if err := yaml.Unmarshal(data, &roles); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}
	for name, caps := range roles {
		if err := caps.validate(); err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
	}
	return roles, nil
}
