package cmd

import (
	"sync"

	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on the configured cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := appInstance.Logger()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				appInstance.Dispatcher().Run(ctx)
			}()

			sched := appInstance.Scheduler()
			sched.Start(ctx)

			<-ctx.Done()
			logger.Info("shutdown initiated")
			sched.Stop()
			wg.Wait()
			logger.Info("shutdown complete")
			return nil
		},
	}
}
