package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			logger := appInstance.Logger()
			cfg := appInstance.Config()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           appInstance.Server().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info("dispatcher started")
				appInstance.Dispatcher().Run(ctx)
			}()

			if !noSchedule {
				appInstance.Scheduler().Start(ctx)
				defer appInstance.Scheduler().Stop()
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
					serveErr <- err
					stop()
				}
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			wg.Wait()
			logger.Info("shutdown complete")

			select {
			case err := <-serveErr:
				return fmt.Errorf("http server: %w", err)
			default:
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without the cron schedule")
	return cmd
}
