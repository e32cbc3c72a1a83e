// Package worker executes queued pipeline runs.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/metrics"
)

// Worker consumes queue items and runs the pipeline for each.
type Worker struct {
	queue    etl.Queue
	runStore etl.RunStore
	executor etl.Executor
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue etl.Queue, runStore etl.RunStore, executor etl.Executor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		runStore: runStore,
		executor: executor,
		logger:   logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID), zap.String("trigger", string(item.Trigger)))
		w.processRun(ctx, item)
	}
}

func (w *Worker) processRun(ctx context.Context, item etl.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID))
	if w.executor == nil {
		logger.Error("no executor configured")
		w.finish(ctx, logger, item.RunID, etl.RunStatusFailed, "no executor configured", etl.RunSummary{})
		return
	}
	if err := w.runStore.UpdateRun(ctx, item.RunID, etl.RunStatusRunning, "", etl.RunSummary{}); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	out := &zapio.Writer{Log: logger.Named("report"), Level: zapcore.InfoLevel}
	summary, err := w.executor.Run(etl.ContextWithRunID(ctx, item.RunID), out)
	if closeErr := out.Close(); closeErr != nil {
		logger.Warn("flush report output failed", zap.Error(closeErr))
	}

	status, errText := deriveFinalStatus(ctx, err)
	if err != nil {
		logger.Error("run failed", zap.Error(err))
	}
	w.finish(ctx, logger, item.RunID, status, errText, summary)
}

func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	status etl.RunStatus,
	errText string,
	summary etl.RunSummary,
) {
	metrics.ObserveRun(string(status))
	// The run context may already be canceled; the final status must still land.
	if err := w.runStore.UpdateRun(context.WithoutCancel(ctx), runID, status, errText, summary); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		return
	}
	logger.Info("run completed", zap.String("status", string(status)))
}

func deriveFinalStatus(ctx context.Context, err error) (etl.RunStatus, string) {
	switch {
	case err == nil:
		return etl.RunStatusSucceeded, ""
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return etl.RunStatusCanceled, err.Error()
	default:
		return etl.RunStatusFailed, err.Error()
	}
}
