// Package scheduler runs periodic ingestion via robfig/cron.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/ingest"
)

// Scheduler triggers ingestion runs on a cron spec.
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *ingest.Orchestrator
	spec         string
	onStart      bool
	logger       *zap.Logger
}

// New constructs a Scheduler. The spec accepts standard cron expressions
// and descriptors like "@every 6h". When onStart is set, a run is
// triggered immediately when Start is called.
func New(orchestrator *ingest.Orchestrator, spec string, onStart bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:         cron.New(),
		orchestrator: orchestrator,
		spec:         spec,
		onStart:      onStart,
		logger:       logger,
	}
}

// Start registers the ingestion job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		runID := s.orchestrator.Trigger(ingest.Options{})
		s.logger.Info("scheduled ingestion run triggered", zap.String("run_id", runID))
	})
	if err != nil {
		return fmt.Errorf("register ingestion schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("ingestion scheduler started", zap.String("spec", s.spec))

	if s.onStart {
		runID := s.orchestrator.Trigger(ingest.Options{})
		s.logger.Info("startup ingestion run triggered", zap.String("run_id", runID))
	}
	return nil
}

// Stop halts the cron loop. Runs already in flight are not interrupted.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("ingestion scheduler stopped")
}
