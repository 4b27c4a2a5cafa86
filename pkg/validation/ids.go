// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers that arrive from clients before
// they are used in storage keys, URLs or log fields.
//
// Session IDs become part of BadgerDB key prefixes ("turn/<id>/"), so a
// separator inside an ID would let one session read another's turns.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxSessionIDLength bounds session IDs. A UUID is 36 characters.
const MaxSessionIDLength = 128

// sessionIDPattern allows UUIDs and readable names like "audit-2025.q3".
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)

// collectionIDPattern matches document collection names.
var collectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateSessionID validates a chat session identifier.
//
// Valid session IDs:
//   - 1-128 characters
//   - start with a letter or digit
//   - letters, digits, dots, underscores, colons, at signs and hyphens
//
// Example:
//
//	if err := validation.ValidateSessionID(id); err != nil {
//	    return fmt.Errorf("invalid session: %w", err)
//	}
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > MaxSessionIDLength {
		return fmt.Errorf("session id is %d characters, at most %d allowed", len(id), MaxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q (letters, digits and . _ : @ - only)", id)
	}
	return nil
}

// SanitizeSessionID trims surrounding whitespace and validates the result.
func SanitizeSessionID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateSessionID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// ValidateCollectionID validates a document collection name.
func ValidateCollectionID(id string) error {
	if id == "" {
		return fmt.Errorf("collection id cannot be empty")
	}
	if !collectionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid collection id %q (1-64 letters, digits, dots, underscores or hyphens)", id)
	}
	return nil
}
