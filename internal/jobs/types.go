// Package jobs defines core types shared across subsystems.
package jobs

import (
	"time"
)

// MaxFieldLength caps title and organization_name, matching the store schema.
const MaxFieldLength = 255

// Location is one posting location. City and State are lowercased at parse
// time; Label keeps the raw source string.
type Location struct {
	City  string `json:"city"`
	State string `json:"state"`
	Label string `json:"label"`
}

// JobRecord is the canonical persisted posting, keyed by ExternalID.
type JobRecord struct {
	ExternalID       string     `json:"external_id"`
	Title            string     `json:"title"`
	PostedAt         time.Time  `json:"posted_at"`
	OrganizationName string     `json:"organization_name"`
	Locations        []Location `json:"locations"`
}

// UpsertOutcome reports whether an upsert inserted or replaced a record.
type UpsertOutcome string

// Upsert outcome values.
const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// SearchQuery filters and paginates job searches. Keywords are OR-combined
// case-insensitive substring matches on the title; City and State are exact
// matches on lowercased location fields, AND-combined with the keyword
// filter. Cursor is the external_id of the last record from the previous
// page; only records strictly after it are returned.
type SearchQuery struct {
	Keywords []string
	City     string
	State    string
	Cursor   string
	Limit    int
}

// Search limits.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// EffectiveLimit resolves the query limit against defaults and the cap.
func (q SearchQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return q.Limit
	}
}

// SearchPage is one page of search results. NextCursor is empty when no
// further records matched.
type SearchPage struct {
	Results    []JobRecord `json:"results"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Stats aggregates matches under a filter.
type Stats struct {
	Total  int64      `json:"total"`
	Newest *JobRecord `json:"newest"`
	Oldest *JobRecord `json:"oldest"`
}

// Organizations lists distinct hiring organizations under a filter.
type Organizations struct {
	Organizations      []string `json:"organizations"`
	TotalOrganizations int64    `json:"total_organizations"`
	TotalJobs          int64    `json:"total_jobs"`
}
