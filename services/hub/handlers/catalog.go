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
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/govchat/pkg/chatstream"
	"gopkg.in/yaml.v3"
)

// Catalog is the set of regulations the hub can cite.
type Catalog struct {
	Records []chatstream.MetadataRecord `yaml:"records"`
}

// DefaultCatalog returns the built-in regulation catalog.
func DefaultCatalog() Catalog {
	return Catalog{Records: []chatstream.MetadataRecord{
		{
			Name:         "GDPR",
			Title:        "General Data Protection Regulation",
			Version:      "2016/679",
			Jurisdiction: "EU",
			Organization: "European Union",
			Type:         "regulation",
			Status:       "in force",
			Link:         "https://eur-lex.europa.eu/eli/reg/2016/679/oj",
			KeyFeatures:  []string{"lawful basis", "data subject rights", "DPIA"},
		},
		{
			Name:         "EU AI Act",
			Title:        "Artificial Intelligence Act",
			Version:      "2024/1689",
			Jurisdiction: "EU",
			Organization: "European Union",
			Type:         "regulation",
			Status:       "in force",
			Link:         "https://eur-lex.europa.eu/eli/reg/2024/1689/oj",
			KeyFeatures:  []string{"risk tiers", "conformity assessment", "transparency"},
		},
		{
			Name:         "NIST AI RMF",
			Title:        "AI Risk Management Framework",
			Version:      "1.0",
			Jurisdiction: "US",
			Organization: "NIST",
			Type:         "framework",
			Status:       "voluntary",
			Link:         "https://www.nist.gov/itl/ai-risk-management-framework",
			KeyFeatures:  []string{"govern", "map", "measure", "manage"},
		},
		{
			Name:         "CCPA",
			Title:        "California Consumer Privacy Act",
			Version:      "2018",
			Jurisdiction: "US-CA",
			Organization: "State of California",
			Type:         "statute",
			Status:       "in force",
			Link:         "https://oag.ca.gov/privacy/ccpa",
		},
		{
			Name:         "ISO/IEC 42001",
			Title:        "AI management system",
			Version:      "2023",
			Jurisdiction: "International",
			Organization: "ISO/IEC",
			Type:         "standard",
			Status:       "published",
			Link:         "https://www.iso.org/standard/81230.html",
		},
	}}
}

// LoadCatalogFile reads a YAML catalog:
//
//	records:
//	  - name: GDPR
//	    version: 2016/679
//	    jurisdiction: EU
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	if len(cat.Records) == 0 {
		return Catalog{}, errors.New("catalog file has no records")
	}
	for i, r := range cat.Records {
		if r.Name == "" && r.Title == "" {
			return Catalog{}, fmt.Errorf("catalog record %d has neither name nor title", i)
		}
	}
	return cat, nil
}

// Match returns the records whose name or title occurs in query,
// case-insensitively, in catalog order.
func (c Catalog) Match(query string) []chatstream.MetadataRecord {
	q := strings.ToLower(query)
	var out []chatstream.MetadataRecord
	for _, r := range c.Records {
		if containsFold(q, r.Name) || containsFold(q, r.Title) {
			out = append(out, r)
		}
	}
	return out
}

// containsFold reports whether the lowercased haystack contains needle.
func containsFold(lowerHaystack, needle string) bool {
	return needle != "" && strings.Contains(lowerHaystack, strings.ToLower(needle))
}
