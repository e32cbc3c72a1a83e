package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
)

func newQueryCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the five-year GDP pivot report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if format == "" {
				format = appInstance.Config().Report.Format
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			table, err := appInstance.Pipeline().Query(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := report.Render(cmd.OutOrStdout(), table, f); err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "output format: table, csv or json (default report.format)")
	return cmd
}
