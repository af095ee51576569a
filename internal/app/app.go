// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/config"
	"github.com/fedjobs/aggregator/internal/ingest"
	"github.com/fedjobs/aggregator/internal/jobs"
	"github.com/fedjobs/aggregator/internal/logging"
	"github.com/fedjobs/aggregator/internal/scheduler"
	"github.com/fedjobs/aggregator/internal/store/memory"
	"github.com/fedjobs/aggregator/internal/store/postgres"
	"github.com/fedjobs/aggregator/internal/usajobs"
)

// App holds the shared services for the aggregator. It is initialized
// once at startup and passed to the components that need it.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        jobs.Store
	Source       *usajobs.Client
	Orchestrator *ingest.Orchestrator
	Scheduler    *scheduler.Scheduler
}

// New builds the service graph from configuration. It fails fast if any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("initializing application services")

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	source := usajobs.NewClient(usajobs.Config{
		BaseURL:           cfg.Source.BaseURL,
		UserAgent:         cfg.Source.UserAgent,
		AuthorizationKey:  cfg.Source.AuthorizationKey,
		Timeout:           cfg.SourceTimeout(),
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
	}, logger)

	orchestrator := ingest.New(source, store, logger)
	sched := scheduler.New(orchestrator, cfg.Ingest.Schedule, cfg.Ingest.OnStart, logger)

	logger.Info("application services initialized")
	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Source:       source,
		Orchestrator: orchestrator,
		Scheduler:    sched,
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (jobs.Store, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("connecting to postgres")
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres store: %w", err)
		}
		return store, nil
	case "memory":
		logger.Info("using in-memory store, data will not survive restarts")
		return memory.NewJobStore(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider: %s", cfg.DB.Provider)
	}
}

// Close shuts down services and flushes the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	// Best effort, stdout sync errors are expected on some platforms.
	_ = a.Logger.Sync()
}
