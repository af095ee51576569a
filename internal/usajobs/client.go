// Package usajobs implements the client for the USAJOBS search API: page
// fetching, envelope validation and occupational-series enumeration.
package usajobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fedjobs/aggregator/internal/jobs"
)

const (
	// DefaultBaseURL is the production endpoint of the job source.
	DefaultBaseURL = "https://data.usajobs.gov/api"

	// ResultsPerPage is the fixed page size requested on every search.
	ResultsPerPage = 250

	// MaxQueryLimit is the source's hard ceiling on total results reliably
	// enumerable for one query. A partition reporting this many results is
	// known-incomplete.
	MaxQueryLimit = 10000

	defaultTimeout           = 30 * time.Second
	defaultRequestsPerSecond = 10
)

// ErrQueryLimitExceeded signals that a query's total result count met the
// source's maximum query limit and its pagination cannot be exhaustive.
var ErrQueryLimitExceeded = errors.New("max query limit reached, results are incomplete")

// SourceError reports a non-OK status or an unparseable payload from the
// job source.
type SourceError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad response from external api %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("bad response from external api %s: status %d", e.URL, e.StatusCode)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Query identifies one page of one partitioned search.
type Query struct {
	// Partition is the occupational series code; empty sweeps the whole
	// corpus.
	Partition string
	// Page is 1-based.
	Page int
}

// Page is one fetched page of results plus the query-wide total.
type Page struct {
	Jobs     []jobs.JobRecord
	CountAll int
	Language string
}

// Config holds client settings loaded from configuration.
type Config struct {
	BaseURL           string
	UserAgent         string
	AuthorizationKey  string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client performs authenticated requests against the job source. The
// underlying http.Client is shared by all concurrent fetches of a run.
type Client struct {
	baseURL string
	ua      string
	authKey string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient constructs a Client from config, applying defaults for any
// unset knobs.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		ua:      cfg.UserAgent,
		authKey: cfg.AuthorizationKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 5),
		logger:  logger,
	}
}

// FetchPage requests one page of results for the query, validates the
// envelope and applies the max-query-limit guard. The guard runs on every
// page of a query, not only the first: the source re-reports the total on
// each response and it can grow between fetches.
func (c *Client) FetchPage(ctx context.Context, query Query) (Page, error) {
	if query.Page < 1 {
		return Page{}, fmt.Errorf("page number must be >= 1, got %d", query.Page)
	}

	params := url.Values{}
	params.Set("Page", strconv.Itoa(query.Page))
	params.Set("ResultsPerPage", strconv.Itoa(ResultsPerPage))
	if query.Partition != "" {
		params.Set("JobCategoryCode", query.Partition)
	}
	reqURL := c.baseURL + "/search?" + params.Encode()

	var env searchEnvelope
	if err := c.getJSON(ctx, reqURL, &env); err != nil {
		return Page{}, err
	}

	page, err := env.toPage()
	if err != nil {
		return Page{}, &SourceError{URL: reqURL, Err: err}
	}

	if page.CountAll >= MaxQueryLimit {
		c.logger.Warn("max query limit reached, not getting all jobs",
			zap.String("partition", query.Partition),
			zap.Int("page", query.Page),
			zap.Int("count_all", page.CountAll),
		)
		return Page{}, fmt.Errorf("%w: partition %q reported %d results",
			ErrQueryLimitExceeded, query.Partition, page.CountAll)
	}

	return page, nil
}

// ListPartitions fetches the occupational series codelist. Codes are
// returned in source order, without dedup or sorting.
func (c *Client) ListPartitions(ctx context.Context) ([]string, error) {
	reqURL := c.baseURL + "/codelist/occupationalseries"

	var env codelistEnvelope
	if err := c.getJSON(ctx, reqURL, &env); err != nil {
		return nil, err
	}

	codes, err := env.codes()
	if err != nil {
		return nil, &SourceError{URL: reqURL, Err: err}
	}
	return codes, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("user-agent", c.ua)
	req.Header.Set("authorization-key", c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &SourceError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return &SourceError{URL: reqURL, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SourceError{URL: reqURL, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}
