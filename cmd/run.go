package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/id/uuid"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run extract, load and query once",
		Long: `Fetches every indicator page, upserts the normalized rows and prints the
GDP pivot report to stdout. Each phase is retried per scheduler.retries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, err := uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("generate run id: %w", err)
			}
			ctx := etl.ContextWithRunID(cmd.Context(), runID)
			summary, err := appInstance.Pipeline().Run(ctx, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}
			appInstance.Logger().Info("run command finished",
				zap.String("run_id", runID),
				zap.Int("records", summary.Records),
				zap.Int("report_rows", summary.ReportRows),
			)
			return nil
		},
	}
}
