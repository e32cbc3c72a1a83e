package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

func newLoadCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Upsert raw records previously written by extract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" {
				return errors.New("--in is required")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read %s: %w", in, err)
			}
			records, err := etl.DecodeRecords(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", in, err)
			}

			summary, err := appInstance.Pipeline().Load(cmd.Context(), records)
			if err != nil {
				return err
			}
			if appInstance.Config().Report.ShowLoadedTables {
				if err := appInstance.Pipeline().ShowLoadedTables(cmd.Context(), cmd.OutOrStdout()); err != nil {
					return err
				}
			}
			appInstance.Logger().Info("load command finished",
				zap.Int("countries", summary.Written.Countries),
				zap.Int("observations", summary.Written.Observations),
				zap.Int("skipped", summary.Skipped),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSON file of raw records")
	return cmd
}
