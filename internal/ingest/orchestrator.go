// Package ingest implements the ingestion pipeline: partition enumeration,
// bounded-concurrency page fetching and idempotent loading into the store.
package ingest

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/jobs"
	"github.com/fedjobs/aggregator/internal/metrics"
	"github.com/fedjobs/aggregator/internal/usajobs"
)

const (
	// PartitionBatchSize bounds how many partitions are swept concurrently.
	// The source documents no concurrency ceiling, so a small constant keeps
	// outstanding requests conservative.
	PartitionBatchSize = 5

	// PageBatchSize bounds concurrent follow-up page fetches within one
	// partition.
	PageBatchSize = 5

	// smokePartitionLimit truncates the partition list in smoke runs.
	smokePartitionLimit = 20
)

// Fetcher is the slice of the source client the pipeline needs.
type Fetcher interface {
	FetchPage(ctx context.Context, query usajobs.Query) (usajobs.Page, error)
	ListPartitions(ctx context.Context) ([]string, error)
}

// Options controls a single ingestion run.
type Options struct {
	// Smoke truncates the sweep to the first partitions for fast validation.
	Smoke bool
}

// RunSummary reports the outcome of one ingestion run.
type RunSummary struct {
	RunID               string        `json:"run_id"`
	Started             time.Time     `json:"started"`
	Elapsed             time.Duration `json:"elapsed"`
	Partitions          int           `json:"partitions"`
	PartitionsFailed    int           `json:"partitions_failed"`
	PartitionsTruncated int           `json:"partitions_truncated"`
	JobsLoaded          int64         `json:"jobs_loaded"`
	Created             int64         `json:"created"`
	Updated             int64         `json:"updated"`
	Failed              int64         `json:"failed"`
}

// Orchestrator drives ingestion runs end to end.
type Orchestrator struct {
	fetcher Fetcher
	store   jobs.Store
	logger  *zap.Logger
}

// New constructs an Orchestrator.
func New(fetcher Fetcher, store jobs.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
	}
}

// Trigger starts a run in the background and returns its id immediately.
// Failures are observable only through logs and counters.
func (o *Orchestrator) Trigger(opts Options) string {
	runID := uuid.NewString()
	go func() {
		if _, err := o.run(context.Background(), runID, opts); err != nil {
			o.logger.Error("ingestion run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return runID
}

// Run executes one ingestion run synchronously.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (RunSummary, error) {
	return o.run(ctx, uuid.NewString(), opts)
}

func (o *Orchestrator) run(ctx context.Context, runID string, opts Options) (RunSummary, error) {
	started := time.Now()
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("ingesting jobs from the job source", zap.Bool("smoke", opts.Smoke))

	// Enumeration failure is run-fatal: without partitions there is nothing
	// to sweep.
	partitions, err := o.fetcher.ListPartitions(ctx)
	if err != nil {
		metrics.ObserveRun("failed", time.Since(started))
		return RunSummary{RunID: runID, Started: started}, err
	}
	if opts.Smoke && len(partitions) > smokePartitionLimit {
		partitions = partitions[:smokePartitionLimit]
	}

	summary := RunSummary{
		RunID:      runID,
		Started:    started,
		Partitions: len(partitions),
	}
	counters := &runCounters{}

	for batch := range slices.Chunk(partitions, PartitionBatchSize) {
		logger.Debug("sweeping partition batch", zap.Strings("partitions", batch))
		for _, outcome := range o.sweepBatch(ctx, batch, counters, logger) {
			switch {
			case outcome.Truncated:
				summary.PartitionsTruncated++
			case outcome.Err != nil:
				summary.PartitionsFailed++
			}
		}
	}

	summary.Elapsed = time.Since(started)
	summary.JobsLoaded = counters.loaded.Load()
	summary.Created = counters.created.Load()
	summary.Updated = counters.updated.Load()
	summary.Failed = counters.failed.Load()

	logger.Info("finished ingesting jobs",
		zap.Duration("elapsed", summary.Elapsed),
		zap.Int("partitions", summary.Partitions),
		zap.Int("partitions_failed", summary.PartitionsFailed),
		zap.Int("partitions_truncated", summary.PartitionsTruncated),
		zap.Int64("jobs_loaded", summary.JobsLoaded),
		zap.Int64("created", summary.Created),
		zap.Int64("updated", summary.Updated),
		zap.Int64("failed", summary.Failed),
	)
	metrics.ObserveRun("completed", summary.Elapsed)
	return summary, nil
}
