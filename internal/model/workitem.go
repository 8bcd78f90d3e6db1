// Package model defines the core data types shared across the extraction engine.
package model

import (
	"net/url"
	"strings"
)

// HintFields carries optional structured hints a strategy may use to
// navigate a source's search flow or sanity-check extracted values.
type HintFields struct {
	AccountNumber   string  `json:"account_number,omitempty"`
	PriorYearAmount float64 `json:"prior_year_amount,omitempty"`
	PropertyValue   float64 `json:"property_value,omitempty"`
	Jurisdiction    string  `json:"jurisdiction,omitempty"`
	State           string  `json:"state,omitempty"`
	ExtractionSteps string  `json:"extraction_steps,omitempty"`
}

// WorkItem is one unit of extraction work: a single property whose tax
// bill lives at SourceURL. Immutable once a run starts.
type WorkItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	SourceURL string     `json:"source_url"`
	SourceKey string     `json:"source_key"`
	Hints     HintFields `json:"hints,omitempty"`
}

// DeriveSourceKey returns the grouping key for rate limiting and circuit
// breaking. An explicitly set SourceKey wins; otherwise the URL host is
// used, normalized to lowercase without a www. prefix.
func (w WorkItem) DeriveSourceKey() string {
	if w.SourceKey != "" {
		return w.SourceKey
	}
	u, err := url.Parse(w.SourceURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
