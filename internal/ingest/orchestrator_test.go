package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/jobs"
	"github.com/fedjobs/aggregator/internal/usajobs"
)

type pageResult struct {
	page usajobs.Page
	err  error
}

type fakeFetcher struct {
	mu            sync.Mutex
	partitions    []string
	partitionsErr error
	pages         map[string]map[int]pageResult
	calls         []usajobs.Query
	block         chan struct{}
}

func (f *fakeFetcher) ListPartitions(context.Context) ([]string, error) {
	if f.partitionsErr != nil {
		return nil, f.partitionsErr
	}
	return f.partitions, nil
}

func (f *fakeFetcher) FetchPage(_ context.Context, query usajobs.Query) (usajobs.Page, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()
	if byPage, ok := f.pages[query.Partition]; ok {
		if res, ok := byPage[query.Page]; ok {
			return res.page, res.err
		}
	}
	return usajobs.Page{}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callsFor(partition string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []int
	for _, q := range f.calls {
		if q.Partition == partition {
			pages = append(pages, q.Page)
		}
	}
	return pages
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]jobs.JobRecord
	failIDs map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]jobs.JobRecord),
		failIDs: make(map[string]bool),
	}
}

func (s *fakeStore) UpsertJob(_ context.Context, record jobs.JobRecord) (jobs.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[record.ExternalID] {
		return "", errors.New("store unavailable")
	}
	_, exists := s.records[record.ExternalID]
	s.records[record.ExternalID] = record
	if exists {
		return jobs.OutcomeUpdated, nil
	}
	return jobs.OutcomeCreated, nil
}

func (s *fakeStore) SearchJobs(context.Context, jobs.SearchQuery) (jobs.SearchPage, error) {
	return jobs.SearchPage{}, nil
}

func (s *fakeStore) AggregateStats(context.Context, jobs.SearchQuery) (jobs.Stats, error) {
	return jobs.Stats{}, nil
}

func (s *fakeStore) ListOrganizations(context.Context, jobs.SearchQuery) (jobs.Organizations, error) {
	return jobs.Organizations{}, nil
}

func (s *fakeStore) Close() {}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) has(externalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[externalID]
	return ok
}

func genJobs(prefix string, n int) []jobs.JobRecord {
	out := make([]jobs.JobRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, jobs.JobRecord{
			ExternalID:       fmt.Sprintf("%s-%04d", prefix, i),
			Title:            "Biologist",
			PostedAt:         time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			OrganizationName: "Forest Service",
			Locations:        []jobs.Location{{City: "honolulu", State: "hawaii", Label: "Honolulu, Hawaii"}},
		})
	}
	return out
}

func TestRun_PaginationCompleteness(t *testing.T) {
	t.Parallel()

	// 530 results at 250 per page: page 1 plus two follow-ups.
	fetcher := &fakeFetcher{
		partitions: []string{"0401"},
		pages: map[string]map[int]pageResult{
			"0401": {
				1: {page: usajobs.Page{Jobs: genJobs("p1", 250), CountAll: 530}},
				2: {page: usajobs.Page{Jobs: genJobs("p2", 250), CountAll: 530}},
				3: {page: usajobs.Page{Jobs: genJobs("p3", 30), CountAll: 530}},
			},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.ElementsMatch(t, []int{1, 2, 3}, fetcher.callsFor("0401"))
	require.Equal(t, 530, store.size())
	require.Equal(t, int64(530), summary.JobsLoaded)
	require.Equal(t, int64(530), summary.Created)
	require.Zero(t, summary.Updated)
	require.Zero(t, summary.PartitionsFailed)
}

func TestRun_CrossListedDuplicatesAreUpdated(t *testing.T) {
	t.Parallel()

	shared := genJobs("dup", 1)
	fetcher := &fakeFetcher{
		partitions: []string{"0401", "0482"},
		pages: map[string]map[int]pageResult{
			"0401": {1: {page: usajobs.Page{Jobs: shared, CountAll: 1}}},
			"0482": {1: {page: usajobs.Page{Jobs: shared, CountAll: 1}}},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, store.size())
	require.Equal(t, int64(1), summary.Created)
	require.Equal(t, int64(1), summary.Updated)
	require.Equal(t, int64(2), summary.JobsLoaded)
}

func TestRun_QueryLimitOnFirstPageSkipsPartition(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		partitions: []string{"2210", "0401"},
		pages: map[string]map[int]pageResult{
			"2210": {1: {err: fmt.Errorf("wrapped: %w", usajobs.ErrQueryLimitExceeded)}},
			"0401": {1: {page: usajobs.Page{Jobs: genJobs("ok", 3), CountAll: 3}}},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.PartitionsTruncated)
	require.Zero(t, summary.PartitionsFailed)
	require.Equal(t, 3, store.size())
	require.Equal(t, []int{1}, fetcher.callsFor("2210"))
}

func TestRun_QueryLimitMidSweepKeepsLoadedJobs(t *testing.T) {
	t.Parallel()

	// 1550 results is seven pages: follow-up batches [2..6] and [7]. The
	// limit fires in the first batch, so the second is never dispatched.
	fetcher := &fakeFetcher{
		partitions: []string{"0401"},
		pages: map[string]map[int]pageResult{
			"0401": {
				1: {page: usajobs.Page{Jobs: genJobs("p1", 250), CountAll: 1550}},
				2: {err: fmt.Errorf("wrapped: %w", usajobs.ErrQueryLimitExceeded)},
				3: {page: usajobs.Page{Jobs: genJobs("p3", 250), CountAll: 1550}},
				4: {page: usajobs.Page{Jobs: genJobs("p4", 250), CountAll: 1550}},
				5: {page: usajobs.Page{Jobs: genJobs("p5", 250), CountAll: 1550}},
				6: {page: usajobs.Page{Jobs: genJobs("p6", 250), CountAll: 1550}},
				7: {page: usajobs.Page{Jobs: genJobs("p7", 50), CountAll: 1550}},
			},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.PartitionsTruncated)
	// Page 1 jobs stay loaded despite the mid-sweep limit breach.
	require.True(t, store.has("p1-0000"))
	// Page 7 was in the batch after the breach and must not be fetched.
	require.NotContains(t, fetcher.callsFor("0401"), 7)
}

func TestRun_PartitionFailureDoesNotDisturbSiblings(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		partitions: []string{"A", "B", "C"},
		pages: map[string]map[int]pageResult{
			"A": {1: {page: usajobs.Page{Jobs: genJobs("a", 2), CountAll: 2}}},
			"B": {1: {err: &usajobs.SourceError{URL: "http://x", StatusCode: 502}}},
			"C": {1: {page: usajobs.Page{Jobs: genJobs("c", 2), CountAll: 2}}},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, 1, summary.PartitionsFailed)
	require.Equal(t, 4, store.size())
	require.True(t, store.has("a-0000"))
	require.True(t, store.has("c-0001"))
}

func TestRun_FailedPageIsSkippedNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		partitions: []string{"0401"},
		pages: map[string]map[int]pageResult{
			"0401": {
				1: {page: usajobs.Page{Jobs: genJobs("p1", 250), CountAll: 530}},
				2: {err: &usajobs.SourceError{URL: "http://x", StatusCode: 500}},
				3: {page: usajobs.Page{Jobs: genJobs("p3", 30), CountAll: 530}},
			},
		},
	}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, int64(280), summary.JobsLoaded)
	require.Zero(t, summary.PartitionsFailed)
	require.Zero(t, summary.PartitionsTruncated)
}

func TestRun_RecordFailureSkipsOnlyThatRecord(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		partitions: []string{"0401"},
		pages: map[string]map[int]pageResult{
			"0401": {1: {page: usajobs.Page{Jobs: genJobs("r", 3), CountAll: 3}}},
		},
	}
	store := newFakeStore()
	store.failIDs["r-0001"] = true

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{})
	require.NoError(t, err)

	require.Equal(t, int64(2), summary.JobsLoaded)
	require.Equal(t, int64(1), summary.Failed)
	require.False(t, store.has("r-0001"))
}

func TestRun_SmokeModeTruncatesPartitions(t *testing.T) {
	t.Parallel()

	partitions := make([]string, 30)
	for i := range partitions {
		partitions[i] = fmt.Sprintf("%04d", i)
	}
	fetcher := &fakeFetcher{partitions: partitions}
	store := newFakeStore()

	summary, err := New(fetcher, store, zap.NewNop()).Run(context.Background(), Options{Smoke: true})
	require.NoError(t, err)

	require.Equal(t, smokePartitionLimit, summary.Partitions)
	require.Equal(t, smokePartitionLimit, fetcher.callCount())
}

func TestRun_EnumerationFailureIsRunFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		partitionsErr: &usajobs.SourceError{URL: "http://x/codelist", StatusCode: 503},
	}

	_, err := New(fetcher, newFakeStore(), zap.NewNop()).Run(context.Background(), Options{})
	var srcErr *usajobs.SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestTrigger_ReturnsImmediately(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	fetcher := &fakeFetcher{partitions: []string{"0401"}, block: block}
	store := newFakeStore()
	o := New(fetcher, store, zap.NewNop())

	done := make(chan string, 1)
	go func() {
		done <- o.Trigger(Options{})
	}()

	select {
	case runID := <-done:
		require.NotEmpty(t, runID)
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on the run")
	}
	close(block)
}
