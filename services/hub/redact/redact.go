// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redact scrubs credentials and personal data from queries before
// the hub writes them to history.
//
// Rules are grouped into classifications ("secret", "pii") and loaded from
// YAML. The built-in set is embedded in the binary; a deployment may point
// hub.redaction_file at its own file with the same layout:
//
//	classifications:
//	  - name: secret
//	    priority: 100
//	    patterns:
//	      - id: AWS_ACCESS_KEY_ID
//	        regex: '\b(?:AKIA|ASIA)[0-9A-Z]{16}\b'
//	        confidence: high
package redact

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// Public is the classification of text that matched no pattern.
const Public = "public"

type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Confidence(s) {
	case High, Medium, Low:
		*c = Confidence(s)
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

type patternFile struct {
	Classifications []Classification `yaml:"classifications"`
}

// Classification is a named group of patterns.
type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	re *regexp.Regexp
}

// Finding records one redacted span. The matched text is never kept.
type Finding struct {
	Classification string
	PatternID      string
	Confidence     Confidence
}

// =============================================================================
// Redactor
// =============================================================================

// Redactor applies compiled classifications to text.
//
// # Thread Safety
//
// A Redactor is immutable after construction and safe for concurrent use.
type Redactor struct {
	classifications []Classification
}

// New returns a Redactor with the built-in patterns.
func New() (*Redactor, error) {
	return Parse(defaultPatterns)
}

// LoadFile reads patterns from a YAML file.
func LoadFile(path string) (*Redactor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read redaction file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("redaction file %s: %w", path, err)
	}
	return r, nil
}

// Parse compiles a YAML pattern set. Classifications are ordered from
// highest to lowest priority.
func Parse(data []byte) (*Redactor, error) {
	var file patternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	if len(file.Classifications) == 0 {
		return nil, errors.New("no classifications defined")
	}

	for i := range file.Classifications {
		c := &file.Classifications[i]
		if c.Name == "" {
			return nil, fmt.Errorf("classification %d has no name", i)
		}
		for j := range c.Patterns {
			p := &c.Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %s: %w", p.ID, err)
			}
			p.re = re
		}
	}
	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})
	return &Redactor{classifications: file.Classifications}, nil
}

// Classify returns the name of the highest priority classification that
// matches text, or Public.
func (r *Redactor) Classify(text string) string {
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			if p.re.MatchString(text) {
				return c.Name
			}
		}
	}
	return Public
}

// Redact replaces every match with [REDACTED:<pattern id>] and reports
// what was replaced. Higher priority classifications run first, so a
// secret inside an email-like string is reported as a secret.
func (r *Redactor) Redact(text string) (string, []Finding) {
	var findings []Finding
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			matches := p.re.FindAllStringIndex(text, -1)
			if len(matches) == 0 {
				continue
			}
			for range matches {
				findings = append(findings, Finding{
					Classification: c.Name,
					PatternID:      p.ID,
					Confidence:     p.Confidence,
				})
			}
			text = p.re.ReplaceAllLiteralString(text, "[REDACTED:"+p.ID+"]")
		}
	}
	return text, findings
}
