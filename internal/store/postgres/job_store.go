// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedjobs/aggregator/internal/jobs"
)

// JobStoreConfig controls the Postgres connection pool.
type JobStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore implements jobs.Store on Postgres. Locations are stored as a
// JSONB array so a posting's insertion order is preserved as received.
type JobStore struct {
	pool pool
}

// NewJobStore connects a pool and returns a store.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(p pool) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: p}, nil
}

// Migrate creates the jobs table and its indexes if missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
	external_id       text PRIMARY KEY,
	title             varchar(255) NOT NULL,
	posted_at         timestamptz NOT NULL,
	organization_name varchar(255) NOT NULL,
	locations         jsonb NOT NULL DEFAULT '[]'
)`,
		`CREATE INDEX IF NOT EXISTS jobs_locations_idx ON jobs USING GIN (locations)`,
		`CREATE INDEX IF NOT EXISTS jobs_posted_at_idx ON jobs (posted_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate jobs table: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertJobSQL = `
INSERT INTO jobs (external_id, title, posted_at, organization_name, locations)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (external_id) DO UPDATE SET
	title = EXCLUDED.title,
	posted_at = EXCLUDED.posted_at,
	organization_name = EXCLUDED.organization_name,
	locations = EXCLUDED.locations
RETURNING (xmax = 0) AS inserted`

// UpsertJob inserts or fully replaces the record keyed by external_id in a
// single conditional write. xmax = 0 distinguishes a fresh insert from an
// update of an existing row.
func (s *JobStore) UpsertJob(ctx context.Context, record jobs.JobRecord) (jobs.UpsertOutcome, error) {
	if record.ExternalID == "" {
		return "", fmt.Errorf("external_id is required")
	}
	locationsJSON, err := json.Marshal(locationsOrEmpty(record.Locations))
	if err != nil {
		return "", fmt.Errorf("marshal locations: %w", err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertJobSQL,
		record.ExternalID,
		record.Title,
		record.PostedAt,
		record.OrganizationName,
		locationsJSON,
	).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("upsert job %s: %w", record.ExternalID, err)
	}
	if inserted {
		return jobs.OutcomeCreated, nil
	}
	return jobs.OutcomeUpdated, nil
}

const jobColumns = "external_id, title, posted_at, organization_name, locations"

// SearchJobs returns one cursor page sorted ascending by external_id. One
// extra row is fetched to decide whether a next cursor exists.
func (s *JobStore) SearchJobs(ctx context.Context, query jobs.SearchQuery) (jobs.SearchPage, error) {
	limit := query.EffectiveLimit()

	where, args := buildFilter(query, true)
	if query.Cursor != "" {
		args = append(args, query.Cursor)
		where = append(where, fmt.Sprintf("external_id > $%d", len(args)))
	}
	args = append(args, limit+1)

	sql := fmt.Sprintf("SELECT %s FROM jobs%s ORDER BY external_id ASC LIMIT $%d",
		jobColumns, whereClause(where), len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return jobs.SearchPage{}, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()

	results := make([]jobs.JobRecord, 0, limit)
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return jobs.SearchPage{}, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return jobs.SearchPage{}, fmt.Errorf("search jobs rows: %w", err)
	}

	page := jobs.SearchPage{Results: results}
	if len(results) > limit {
		page.Results = results[:limit]
		page.NextCursor = results[limit-1].ExternalID
	}
	return page, nil
}

// AggregateStats counts matches and fetches the newest and oldest records
// by posted_at under the same filter.
func (s *JobStore) AggregateStats(ctx context.Context, query jobs.SearchQuery) (jobs.Stats, error) {
	where, args := buildFilter(query, true)
	clause := whereClause(where)

	var stats jobs.Stats
	countSQL := "SELECT count(*) FROM jobs" + clause
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&stats.Total); err != nil {
		return jobs.Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	if stats.Total == 0 {
		return stats, nil
	}

	newest, err := s.queryOne(ctx, clause, args, "DESC")
	if err != nil {
		return jobs.Stats{}, err
	}
	oldest, err := s.queryOne(ctx, clause, args, "ASC")
	if err != nil {
		return jobs.Stats{}, err
	}
	stats.Newest = newest
	stats.Oldest = oldest
	return stats, nil
}

func (s *JobStore) queryOne(ctx context.Context, clause string, args []any, direction string) (*jobs.JobRecord, error) {
	sql := fmt.Sprintf("SELECT %s FROM jobs%s ORDER BY posted_at %s LIMIT 1",
		jobColumns, clause, direction)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query extreme job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("query extreme job: %w", err)
		}
		return nil, nil
	}
	record, err := scanJob(rows)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListOrganizations returns the distinct organization names plus totals
// under the city/state filter.
func (s *JobStore) ListOrganizations(ctx context.Context, query jobs.SearchQuery) (jobs.Organizations, error) {
	where, args := buildFilter(query, false)
	clause := whereClause(where)

	rows, err := s.pool.Query(ctx, "SELECT DISTINCT organization_name FROM jobs"+clause, args...)
	if err != nil {
		return jobs.Organizations{}, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	organizations := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return jobs.Organizations{}, fmt.Errorf("scan organization: %w", err)
		}
		organizations = append(organizations, name)
	}
	if err := rows.Err(); err != nil {
		return jobs.Organizations{}, fmt.Errorf("list organizations rows: %w", err)
	}

	var totalJobs int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM jobs"+clause, args...).Scan(&totalJobs); err != nil {
		return jobs.Organizations{}, fmt.Errorf("count jobs: %w", err)
	}

	return jobs.Organizations{
		Organizations:      organizations,
		TotalOrganizations: int64(len(organizations)),
		TotalJobs:          totalJobs,
	}, nil
}

// buildFilter renders the keyword/city/state conditions. Keywords are
// OR-combined substring matches on the title; city and state are exact
// matches against the lowercased JSONB location fields.
func buildFilter(query jobs.SearchQuery, includeKeywords bool) ([]string, []any) {
	var where []string
	var args []any

	if includeKeywords && len(query.Keywords) > 0 {
		ors := make([]string, 0, len(query.Keywords))
		for _, keyword := range query.Keywords {
			args = append(args, keyword)
			ors = append(ors, fmt.Sprintf("title ILIKE '%%' || $%d || '%%'", len(args)))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if query.City != "" {
		args = append(args, strings.ToLower(query.City))
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements(locations) AS loc WHERE loc->>'city' = $%d)",
			len(args)))
	}
	if query.State != "" {
		args = append(args, strings.ToLower(query.State))
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements(locations) AS loc WHERE loc->>'state' = $%d)",
			len(args)))
	}
	return where, args
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

func scanJob(rows pgx.Rows) (jobs.JobRecord, error) {
	var record jobs.JobRecord
	var locationsJSON []byte
	if err := rows.Scan(
		&record.ExternalID,
		&record.Title,
		&record.PostedAt,
		&record.OrganizationName,
		&locationsJSON,
	); err != nil {
		return jobs.JobRecord{}, fmt.Errorf("scan job: %w", err)
	}
	if len(locationsJSON) > 0 {
		if err := json.Unmarshal(locationsJSON, &record.Locations); err != nil {
			return jobs.JobRecord{}, fmt.Errorf("unmarshal locations for %s: %w", record.ExternalID, err)
		}
	}
	return record, nil
}

func locationsOrEmpty(locations []jobs.Location) []jobs.Location {
	if locations == nil {
		return []jobs.Location{}
	}
	return locations
}
