// Package memory provides an in-memory job store for development and
// testing. It mirrors the search and upsert semantics of the Postgres
// implementation.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fedjobs/aggregator/internal/jobs"
)

// JobStore implements jobs.Store in process memory.
type JobStore struct {
	mu      sync.RWMutex
	records map[string]jobs.JobRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{records: make(map[string]jobs.JobRecord)}
}

// UpsertJob inserts or replaces the record keyed by external_id.
func (s *JobStore) UpsertJob(_ context.Context, record jobs.JobRecord) (jobs.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.records[record.ExternalID]
	s.records[record.ExternalID] = record
	if exists {
		return jobs.OutcomeUpdated, nil
	}
	return jobs.OutcomeCreated, nil
}

// SearchJobs returns one cursor page sorted ascending by external_id.
func (s *JobStore) SearchJobs(_ context.Context, query jobs.SearchQuery) (jobs.SearchPage, error) {
	limit := query.EffectiveLimit()
	matched := s.matching(query, true)

	var results []jobs.JobRecord
	for _, record := range matched {
		if query.Cursor != "" && record.ExternalID <= query.Cursor {
			continue
		}
		results = append(results, record)
		if len(results) > limit {
			break
		}
	}

	page := jobs.SearchPage{Results: results}
	if len(results) > limit {
		page.Results = results[:limit]
		page.NextCursor = results[limit-1].ExternalID
	}
	return page, nil
}

// AggregateStats counts matches and picks the newest and oldest by
// posted_at.
func (s *JobStore) AggregateStats(_ context.Context, query jobs.SearchQuery) (jobs.Stats, error) {
	matched := s.matching(query, true)
	stats := jobs.Stats{Total: int64(len(matched))}
	for i := range matched {
		record := matched[i]
		if stats.Newest == nil || record.PostedAt.After(stats.Newest.PostedAt) {
			stats.Newest = &record
		}
		if stats.Oldest == nil || record.PostedAt.Before(stats.Oldest.PostedAt) {
			stats.Oldest = &record
		}
	}
	return stats, nil
}

// ListOrganizations returns distinct organization names under the
// city/state filter.
func (s *JobStore) ListOrganizations(_ context.Context, query jobs.SearchQuery) (jobs.Organizations, error) {
	matched := s.matching(query, false)
	seen := make(map[string]struct{})
	organizations := make([]string, 0)
	for _, record := range matched {
		if _, ok := seen[record.OrganizationName]; ok {
			continue
		}
		seen[record.OrganizationName] = struct{}{}
		organizations = append(organizations, record.OrganizationName)
	}
	return jobs.Organizations{
		Organizations:      organizations,
		TotalOrganizations: int64(len(organizations)),
		TotalJobs:          int64(len(matched)),
	}, nil
}

// Close is a no-op.
func (s *JobStore) Close() {}

func (s *JobStore) matching(query jobs.SearchQuery, includeKeywords bool) []jobs.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]jobs.JobRecord, 0, len(s.records))
	for _, record := range s.records {
		if matches(record, query, includeKeywords) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ExternalID < matched[j].ExternalID
	})
	return matched
}

func matches(record jobs.JobRecord, query jobs.SearchQuery, includeKeywords bool) bool {
	if includeKeywords && len(query.Keywords) > 0 {
		title := strings.ToLower(record.Title)
		hit := false
		for _, keyword := range query.Keywords {
			if strings.Contains(title, strings.ToLower(keyword)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if query.City != "" && !hasLocation(record, "city", strings.ToLower(query.City)) {
		return false
	}
	if query.State != "" && !hasLocation(record, "state", strings.ToLower(query.State)) {
		return false
	}
	return true
}

func hasLocation(record jobs.JobRecord, field, value string) bool {
	for _, loc := range record.Locations {
		switch field {
		case "city":
			if loc.City == value {
				return true
			}
		case "state":
			if loc.State == value {
				return true
			}
		}
	}
	return false
}
