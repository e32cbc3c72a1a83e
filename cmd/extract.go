package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExtractCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Fetch all indicator pages and write the raw records as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Pipeline().Extract(cmd.Context())
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Records); err != nil {
				return fmt.Errorf("encode records: %w", err)
			}
			appInstance.Logger().Info("extract command finished",
				zap.Int("records", len(res.Records)),
				zap.Int("pages", res.TotalPages),
				zap.Ints("failed_pages", res.FailedPages),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write records to this file instead of stdout")
	return cmd
}
