package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/store"
)

func newSQLCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "sql <statement>",
		Short: "Run an ad hoc read-only SQL statement against the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg := appInstance.Config().Store
			st, err := store.Open(cmd.Context(), store.Config{
				Driver:   store.Driver(cfg.Driver),
				Path:     cfg.Path,
				ReadOnly: true,
			}, appInstance.Logger())
			if err != nil {
				return err
			}
			defer st.Close()
			table, err := st.Query(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := report.Render(cmd.OutOrStdout(), table, f); err != nil {
				return fmt.Errorf("render result: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, csv or json")
	return cmd
}
