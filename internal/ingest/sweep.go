package ingest

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fedjobs/aggregator/internal/jobs"
	"github.com/fedjobs/aggregator/internal/metrics"
	"github.com/fedjobs/aggregator/internal/usajobs"
)

// runCounters holds the run-scoped load counters. They are incremented from
// concurrent partition sweeps, hence atomic.
type runCounters struct {
	loaded  atomic.Int64
	created atomic.Int64
	updated atomic.Int64
	failed  atomic.Int64
}

// PartitionOutcome is the collected result of one partition's sweep. The
// scheduler inspects outcomes by value; a failing partition never unwinds
// across goroutines or cancels its siblings.
type PartitionOutcome struct {
	Partition  string
	JobsLoaded int
	Truncated  bool
	Err        error
}

// sweepBatch ingests a batch of partitions concurrently and collects every
// outcome. Tasks always return nil so one partition's failure cannot cancel
// in-flight siblings.
func (o *Orchestrator) sweepBatch(
	ctx context.Context,
	batch []string,
	counters *runCounters,
	logger *zap.Logger,
) []PartitionOutcome {
	outcomes := make([]PartitionOutcome, len(batch))
	var g errgroup.Group
	for i, code := range batch {
		g.Go(func() error {
			outcomes[i] = o.sweepPartition(ctx, code, counters, logger)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// sweepPartition fetches and loads every page of one partition. Page 1 is
// fetched first to learn the total count and its jobs are loaded before any
// follow-up pagination, so a later query-limit breach leaves them persisted.
func (o *Orchestrator) sweepPartition(
	ctx context.Context,
	code string,
	counters *runCounters,
	logger *zap.Logger,
) PartitionOutcome {
	outcome := PartitionOutcome{Partition: code}
	logger = logger.With(zap.String("partition", code))

	first, err := o.fetchPage(ctx, usajobs.Query{Partition: code, Page: 1})
	if err != nil {
		if errors.Is(err, usajobs.ErrQueryLimitExceeded) {
			logger.Warn("partition too broad to paginate, skipping", zap.Error(err))
			outcome.Truncated = true
			outcome.Err = err
			metrics.ObservePartition("truncated")
			return outcome
		}
		logger.Error("partition page 1 fetch failed", zap.Error(err))
		outcome.Err = err
		metrics.ObservePartition("failed")
		return outcome
	}

	outcome.JobsLoaded += o.loadPage(ctx, first.Jobs, counters, logger)

	if first.CountAll > usajobs.ResultsPerPage {
		loaded, truncated := o.sweepFollowUpPages(ctx, code, first.CountAll, counters, logger)
		outcome.JobsLoaded += loaded
		outcome.Truncated = truncated
	}

	if outcome.Truncated {
		metrics.ObservePartition("truncated")
	} else {
		metrics.ObservePartition("ok")
	}
	logger.Debug("partition swept",
		zap.Int("jobs_loaded", outcome.JobsLoaded),
		zap.Bool("truncated", outcome.Truncated),
	)
	return outcome
}

// sweepFollowUpPages fetches pages 2..ceil(countAll/pageSize) in bounded
// concurrent batches, loading each fetched page's jobs. A query-limit breach
// stops the remaining pagination; any other page failure is logged and only
// that page is skipped.
func (o *Orchestrator) sweepFollowUpPages(
	ctx context.Context,
	code string,
	countAll int,
	counters *runCounters,
	logger *zap.Logger,
) (loaded int, truncated bool) {
	lastPage := int(math.Ceil(float64(countAll) / float64(usajobs.ResultsPerPage)))
	pageNumbers := make([]int, 0, lastPage-1)
	for p := 2; p <= lastPage; p++ {
		pageNumbers = append(pageNumbers, p)
	}

	for batch := range slices.Chunk(pageNumbers, PageBatchSize) {
		type fetchResult struct {
			page usajobs.Page
			err  error
		}
		results := make([]fetchResult, len(batch))

		var g errgroup.Group
		for i, pageNum := range batch {
			g.Go(func() error {
				page, err := o.fetchPage(ctx, usajobs.Query{Partition: code, Page: pageNum})
				results[i] = fetchResult{page: page, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, res := range results {
			if res.err != nil {
				if errors.Is(res.err, usajobs.ErrQueryLimitExceeded) {
					logger.Warn("query limit reached mid-sweep, halting pagination",
						zap.Int("page", batch[i]), zap.Error(res.err))
					truncated = true
					continue
				}
				logger.Error("page fetch failed, skipping page",
					zap.Int("page", batch[i]), zap.Error(res.err))
				continue
			}
			loaded += o.loadPage(ctx, res.page.Jobs, counters, logger)
		}

		if truncated {
			return loaded, true
		}
	}
	return loaded, false
}

func (o *Orchestrator) fetchPage(ctx context.Context, query usajobs.Query) (usajobs.Page, error) {
	page, err := o.fetcher.FetchPage(ctx, query)
	switch {
	case err == nil:
		metrics.ObservePage("ok")
	case errors.Is(err, usajobs.ErrQueryLimitExceeded):
		metrics.ObservePage("limit")
	default:
		metrics.ObservePage("error")
	}
	return page, err
}

// loadPage upserts every record of a page. Loading is best-effort per
// record: a failed upsert is logged with its external_id and skipped.
func (o *Orchestrator) loadPage(
	ctx context.Context,
	records []jobs.JobRecord,
	counters *runCounters,
	logger *zap.Logger,
) int {
	loaded := 0
	for _, record := range records {
		outcome, err := o.store.UpsertJob(ctx, record)
		if err != nil {
			logger.Error("error loading job",
				zap.String("external_id", record.ExternalID), zap.Error(err))
			counters.failed.Add(1)
			metrics.ObserveJob("failed")
			continue
		}
		switch outcome {
		case jobs.OutcomeCreated:
			counters.created.Add(1)
		case jobs.OutcomeUpdated:
			counters.updated.Add(1)
		}
		metrics.ObserveJob(string(outcome))
		counters.loaded.Add(1)
		loaded++
	}
	return loaded
}
