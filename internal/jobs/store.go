package jobs

import "context"

// Store persists job records and answers search queries. Implementations
// must serialize conflicting upserts on the same external_id atomically;
// callers rely on that for concurrent loads within one ingestion run.
type Store interface {
	// UpsertJob inserts the record if its external_id is unseen, otherwise
	// replaces all mutable fields in place. The insert-or-update decision
	// and the write are a single atomic operation.
	UpsertJob(ctx context.Context, record JobRecord) (UpsertOutcome, error)

	// SearchJobs returns one cursor page of records matching the query,
	// sorted ascending by external_id.
	SearchJobs(ctx context.Context, query SearchQuery) (SearchPage, error)

	// AggregateStats counts matches and returns the newest and oldest
	// record by posted_at under the same filter.
	AggregateStats(ctx context.Context, query SearchQuery) (Stats, error)

	// ListOrganizations returns the distinct organization names (order
	// undefined) plus totals under the city/state filter.
	ListOrganizations(ctx context.Context, query SearchQuery) (Organizations, error)

	// Close releases any underlying resources.
	Close()
}
