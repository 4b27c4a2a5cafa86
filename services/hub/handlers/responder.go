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
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/govchat/pkg/chatstream"
)

// =============================================================================
// Routing
// =============================================================================

// Route selects how a query is answered.
type Route string

const (
	RouteChat      Route = ""
	RouteGapReport Route = "gap_report"
	RouteRiskScore Route = "risk_score"
)

// Label is the metrics label of the route.
func (r Route) Label() string {
	if r == RouteChat {
		return "none"
	}
	return string(r)
}

// ParseRoute strips a routing prefix from a received query. prefixes are
// the values of the client's routing marker table, e.g. "#gap_report ".
// A query without a known prefix is RouteChat and is returned unchanged.
func ParseRoute(query string, prefixes []string) (Route, string) {
	for _, p := range prefixes {
		if p == "" || !strings.HasPrefix(query, p) {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(p, "#"))
		return Route(name), strings.TrimPrefix(query, p)
	}
	return RouteChat, query
}

// MarkerPrefixes returns the prefixes of a routing marker table, longest
// first so that no prefix shadows a longer one.
func MarkerPrefixes(markers map[string]string) []string {
	out := make([]string, 0, len(markers))
	for _, p := range markers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// =============================================================================
// Responder
// =============================================================================

// TurnRequest is one query after routing and capability checks.
type TurnRequest struct {
	Query         string
	Route         Route
	BuildScore    bool
	AssessmentRAG bool
	CollectionID  string
}

// Answer is what the hub streams back for a turn.
type Answer struct {
	// Text is streamed as token frames.
	Text string

	// Artifact, when set, is sent as {"artifact": Artifact} after the text.
	Artifact string

	// Citations are sent in the done frame.
	Citations []chatstream.MetadataRecord
}

// Responder produces answers. The development hub answers from a static
// regulation catalog; a deployment plugs in its retrieval pipeline.
type Responder interface {
	Answer(ctx context.Context, req TurnRequest) (Answer, error)
}

// CatalogResponder answers from a Catalog.
type CatalogResponder struct {
	catalog Catalog
}

// NewCatalogResponder creates a responder over catalog.
func NewCatalogResponder(catalog Catalog) *CatalogResponder {
	return &CatalogResponder{catalog: catalog}
}

// Answer implements Responder.
func (r *CatalogResponder) Answer(ctx context.Context, req TurnRequest) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	var b strings.Builder
	if req.CollectionID != "" {
		fmt.Fprintf(&b, "Searching collection `%s` alongside the catalog.\n\n", req.CollectionID)
	}
	if req.AssessmentRAG {
		b.WriteString("Using your assessment answers as context.\n\n")
	}

	var ans Answer
	switch req.Route {
	case RouteGapReport:
		b.WriteString("## Compliance gap report\n\n")
		for _, rec := range r.catalog.Records {
			fmt.Fprintf(&b, "- **%s**: review your controls against %s.\n", displayName(rec), describe(rec))
		}
		ans.Citations = append(ans.Citations, r.catalog.Records...)

	case RouteRiskScore:
		b.WriteString("Your AI risk score starts with a short assessment. ")
		b.WriteString("Complete the form and the score is computed from your answers.")
		ans.Artifact = chatstream.ArtifactShowForm

	default:
		matched := r.catalog.Match(req.Query)
		if len(matched) == 0 {
			b.WriteString("I could not match your question to a regulation in the catalog. ")
			b.WriteString("Try naming one, for example GDPR or the EU AI Act.")
			break
		}
		b.WriteString("Here is what applies to your question:\n\n")
		for _, rec := range matched {
			fmt.Fprintf(&b, "- **%s** (%s): %s.\n", displayName(rec), rec.Jurisdiction, describe(rec))
		}
		ans.Citations = matched
	}

	if req.BuildScore {
		b.WriteString("\n\nA scoring form has been prepared for this conversation.")
		ans.Artifact = chatstream.ArtifactShowForm
	}

	ans.Text = strings.TrimRight(b.String(), "\n")
	return ans, nil
}

func displayName(rec chatstream.MetadataRecord) string {
	if rec.Name != "" {
		return rec.Name
	}
	return rec.Title
}

func describe(rec chatstream.MetadataRecord) string {
	desc := rec.Title
	if desc == "" {
		desc = rec.Name
	}
	if len(rec.KeyFeatures) > 0 {
		desc += ", covering " + strings.Join(rec.KeyFeatures, ", ")
	}
	return desc
}

// =============================================================================
// Tokenization
// =============================================================================

// Tokenize splits text into word fragments that keep their trailing
// whitespace. Leading whitespace stays with the first word.
// Concatenating the fragments yields text unchanged.
func Tokenize(text string) []string {
	var out []string
	start := 0
	inSpace := false
	seenWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inSpace = seenWord
			continue
		}
		seenWord = true
		if inSpace {
			out = append(out, text[start:i])
			start = i
			inSpace = false
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

var _ Responder = (*CatalogResponder)(nil)
