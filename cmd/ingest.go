package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fedjobs/aggregator/internal/app"
	"github.com/fedjobs/aggregator/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var smoke bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Runs one ingestion sweep and exits",
		Long: `Enumerates every occupational series, fetches all pages of postings
for each and upserts them into the configured store. With --smoke, only
the first few series are swept for a fast end-to-end check.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			application, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Orchestrator.Run(cmd.Context(), ingest.Options{Smoke: smoke})
			if err != nil {
				return err
			}
			application.Logger.Info("ingestion finished",
				zap.String("run_id", summary.RunID),
				zap.Int64("jobs_loaded", summary.JobsLoaded),
				zap.Int64("created", summary.Created),
				zap.Int64("updated", summary.Updated),
				zap.Int64("failed", summary.Failed),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&smoke, "smoke", false, "sweep only the first occupational series")
	return cmd
}
