// Package scheduler submits pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// DefaultSpec fires once a day at 08:00.
const DefaultSpec = "0 8 * * *"

// Submitter queues a run. *dispatcher.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, trigger etl.Trigger) (etl.Run, error)
}

// Scheduler wraps a cron instance with a single pipeline entry. Missed ticks are
// not caught up and overlapping ticks are skipped.
type Scheduler struct {
	cron      *cron.Cron
	entry     cron.EntryID
	spec      string
	submitter Submitter
	logger    *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard five-field cron) and registers the run job.
func New(spec string, loc *time.Location, submitter Submitter, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:      spec,
		submitter: submitter,
		logger:    logger,
		ctx:       context.Background(),
	}
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing in the background. Submissions use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", s.Next()))
}

// Stop halts the cron and waits for a running submission to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next activation time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	run, err := s.submitter.Submit(ctx, etl.TriggerSchedule)
	if err != nil {
		s.logger.Error("scheduled submit failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run submitted", zap.String("run_id", run.ID))
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
