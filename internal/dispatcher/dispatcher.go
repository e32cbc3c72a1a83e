// Package dispatcher accepts run submissions and fans queued runs out to workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/worker"
)

const enqueueTimeout = 5 * time.Second

// Dispatcher records runs, queues them and drives the worker pool.
type Dispatcher struct {
	queue    etl.Queue
	runStore etl.RunStore
	ids      etl.IDGenerator
	clock    etl.Clock
	workers  []*worker.Worker
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue etl.Queue,
	runStore etl.RunStore,
	ids etl.IDGenerator,
	clock etl.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		runStore: runStore,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		logger:   logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit records a queued run and enqueues it. If the queue does not accept the run
// within five seconds the run is marked failed and an error is returned.
func (d *Dispatcher) Submit(ctx context.Context, trigger etl.Trigger) (etl.Run, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return etl.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := etl.Run{
		ID:        runID,
		Trigger:   trigger,
		Status:    etl.RunStatusQueued,
		Submitted: d.clock.Now(),
	}
	if err := d.runStore.CreateRun(ctx, run); err != nil {
		return etl.Run{}, fmt.Errorf("create run: %w", err)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := etl.QueueItem{RunID: runID, Trigger: trigger, Submitted: run.Submitted.Unix()}
	if err := d.queue.Enqueue(enqueueCtx, item); err != nil {
		if updateErr := d.runStore.UpdateRun(
			context.WithoutCancel(ctx), runID, etl.RunStatusFailed, "enqueue failed", etl.RunSummary{},
		); updateErr != nil {
			d.logger.Error("mark run failed", zap.String("run_id", runID), zap.Error(updateErr))
		}
		return etl.Run{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("run submitted", zap.String("run_id", runID), zap.String("trigger", string(trigger)))
	return run, nil
}
