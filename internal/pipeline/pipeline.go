// Package pipeline composes the extract, load and query phases of a run.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/clock/system"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/metrics"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/normalize"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
)

const tracerName = "github.com/JakeFAU/worldbank-gdp-pipeline/internal/pipeline"

// Phase names used in logs, metrics and spans.
const (
	PhaseExtract = "extract"
	PhaseLoad    = "load"
	PhaseQuery   = "query"
)

// Extractor produces the raw records of one run.
type Extractor interface {
	Extract(ctx context.Context) (etl.ExtractResult, error)
}

// Store is the subset of *store.Store used by the phases.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, batch etl.Batch) (etl.UpsertResult, error)
	Query(ctx context.Context, query string, args ...any) (etl.Table, error)
	Counts(ctx context.Context) (etl.TableCounts, error)
	Close() error
}

// StoreOpener opens a store for the duration of one phase.
type StoreOpener func(ctx context.Context) (Store, error)

// Config controls phase behavior.
type Config struct {
	MalformedRecords  normalize.Policy
	SkipLoadWhenEmpty bool
	ShowLoadedTables  bool
	Format            report.Format
	Topic             string
	Retry             RetryPolicy
}

// Deps carries the optional side outputs. Nil fields are disabled.
type Deps struct {
	Mirror    etl.Mirror
	Publisher etl.Publisher
	Clock     etl.Clock
}

// Pipeline runs extract, then load with extract's records, then query.
type Pipeline struct {
	extractor Extractor
	open      StoreOpener
	reporter  *report.Reporter
	mirror    etl.Mirror
	publisher etl.Publisher
	clock     etl.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline.
func New(extractor Extractor, open StoreOpener, reporter *report.Reporter, deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.MalformedRecords.Valid() {
		cfg.MalformedRecords = normalize.PolicySkip
	}
	if cfg.Format == "" {
		cfg.Format = report.FormatTable
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	return &Pipeline{
		extractor: extractor,
		open:      open,
		reporter:  reporter,
		mirror:    deps.Mirror,
		publisher: deps.Publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// Run executes all phases once. Each phase is retried per the retry policy; the first
// phase that exhausts its attempts aborts the run.
func (p *Pipeline) Run(ctx context.Context, w io.Writer) (summary etl.RunSummary, err error) {
	runID := etl.RunIDFromContext(ctx)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	logger := p.logger.With(zap.String("run_id", runID))

	var extracted etl.ExtractResult
	err = p.runPhase(ctx, PhaseExtract, func(ctx context.Context) error {
		res, err := p.Extract(ctx)
		if err != nil {
			return err
		}
		extracted = res
		return nil
	})
	if err != nil {
		return summary, err
	}
	summary.Records = len(extracted.Records)
	summary.TotalPages = extracted.TotalPages
	summary.FailedPages = extracted.FailedPages

	if len(extracted.Records) == 0 {
		logger.Warn("extract produced no records", zap.Int("failed_pages", len(extracted.FailedPages)))
	}

	if len(extracted.Records) == 0 && p.cfg.SkipLoadWhenEmpty {
		logger.Info("load skipped")
	} else {
		err = p.runPhase(ctx, PhaseLoad, func(ctx context.Context) error {
			loaded, err := p.Load(ctx, extracted.Records)
			if err != nil {
				return err
			}
			summary.Load = loaded
			return nil
		})
		if err != nil {
			return summary, err
		}
		if p.cfg.ShowLoadedTables && w != nil {
			if err := p.ShowLoadedTables(ctx, w); err != nil {
				logger.Warn("show loaded tables failed", zap.Error(err))
			}
		}
		p.notify(ctx, summary)
	}

	err = p.runPhase(ctx, PhaseQuery, func(ctx context.Context) error {
		table, err := p.Query(ctx, w)
		if err != nil {
			return err
		}
		summary.ReportRows = len(table.Rows)
		return nil
	})
	if err != nil {
		return summary, err
	}
	logger.Info("run finished",
		zap.Int("records", summary.Records),
		zap.Int("countries", summary.Load.Written.Countries),
		zap.Int("observations", summary.Load.Written.Observations),
		zap.Int("report_rows", summary.ReportRows),
	)
	return summary, nil
}

// Extract fetches every page.
func (p *Pipeline) Extract(ctx context.Context) (etl.ExtractResult, error) {
	res, err := p.extractor.Extract(ctx)
	if err != nil {
		return etl.ExtractResult{}, fmt.Errorf("extract: %w", err)
	}
	return res, nil
}

// Load normalizes records and upserts them, then mirrors the batch if a mirror is set.
func (p *Pipeline) Load(ctx context.Context, records []etl.RawIndicatorRecord) (etl.LoadSummary, error) {
	batch, skipped, err := normalize.Batch(records, p.cfg.MalformedRecords)
	if err != nil {
		return etl.LoadSummary{}, fmt.Errorf("normalize: %w", err)
	}
	for _, recErr := range skipped {
		p.logger.Warn("malformed record skipped", zap.Error(recErr))
	}
	metrics.ObserveRecordsSkipped(len(skipped))

	st, err := p.open(ctx)
	if err != nil {
		return etl.LoadSummary{}, fmt.Errorf("open store: %w", err)
	}
	defer p.closeStore(st)

	if err := st.EnsureSchema(ctx); err != nil {
		return etl.LoadSummary{}, err
	}
	written, err := st.Upsert(ctx, batch)
	if err != nil {
		return etl.LoadSummary{}, fmt.Errorf("upsert: %w", err)
	}
	totals, err := st.Counts(ctx)
	if err != nil {
		return etl.LoadSummary{}, fmt.Errorf("counts: %w", err)
	}
	p.mirrorBatch(ctx, batch)

	return etl.LoadSummary{
		Written: written,
		Skipped: len(skipped),
		Totals:  totals,
	}, nil
}

// Query runs the pivot report and renders it to w when w is non-nil.
func (p *Pipeline) Query(ctx context.Context, w io.Writer) (etl.Table, error) {
	st, err := p.open(ctx)
	if err != nil {
		return etl.Table{}, fmt.Errorf("open store: %w", err)
	}
	defer p.closeStore(st)

	if err := st.EnsureSchema(ctx); err != nil {
		return etl.Table{}, err
	}
	table, err := p.reporter.Run(ctx, st)
	if err != nil {
		return etl.Table{}, err
	}
	if w != nil {
		if err := report.Render(w, table, p.cfg.Format); err != nil {
			return etl.Table{}, fmt.Errorf("render report: %w", err)
		}
	}
	return table, nil
}

// ShowLoadedTables renders the full country and gdp tables to w.
func (p *Pipeline) ShowLoadedTables(ctx context.Context, w io.Writer) error {
	st, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer p.closeStore(st)

	for _, query := range []string{report.CountryTableSQL, report.GDPTableSQL} {
		table, err := st.Query(ctx, query)
		if err != nil {
			return err
		}
		if err := report.Render(w, table, p.cfg.Format); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) runPhase(ctx context.Context, phase string, fn func(context.Context) error) error {
	tracer := otel.Tracer(tracerName)
	for attempt := 0; ; attempt++ {
		start := time.Now()
		spanCtx, span := tracer.Start(ctx, "pipeline."+phase,
			trace.WithAttributes(attribute.Int("attempt", attempt+1)))
		err := fn(spanCtx)
		status := "ok"
		if err != nil {
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.ObservePhase(phase, status, time.Since(start))
		if err == nil {
			return nil
		}
		if !p.cfg.Retry.ShouldRetry(err, attempt) {
			return fmt.Errorf("%s phase: %w", phase, err)
		}
		delay := p.cfg.Retry.Backoff(attempt)
		p.logger.Warn("phase failed, retrying",
			zap.String("phase", phase),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return fmt.Errorf("%s phase: %w", phase, err)
		}
	}
}

func (p *Pipeline) mirrorBatch(ctx context.Context, batch etl.Batch) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.MirrorBatch(ctx, batch.Collapse()); err != nil {
		metrics.ObserveSideOutput("mirror", "failed")
		p.logger.Warn("mirror batch failed", zap.Error(err))
		return
	}
	metrics.ObserveSideOutput("mirror", "ok")
}

func (p *Pipeline) notify(ctx context.Context, summary etl.RunSummary) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	failed := summary.FailedPages
	if failed == nil {
		failed = []int{}
	}
	payload := map[string]any{
		"run_id":       etl.RunIDFromContext(ctx),
		"countries":    summary.Load.Written.Countries,
		"observations": summary.Load.Written.Observations,
		"skipped":      summary.Load.Skipped,
		"failed_pages": failed,
		"timestamp":    p.clock.Now().UTC().Format(time.RFC3339),
	}
	msgID, err := p.publisher.Publish(ctx, p.cfg.Topic, payload)
	if err != nil {
		metrics.ObserveSideOutput("pubsub", "failed")
		p.logger.Warn("load notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	metrics.ObserveSideOutput("pubsub", "ok")
	p.logger.Info("load notification published", zap.String("topic", p.cfg.Topic), zap.String("message_id", msgID))
}

func (p *Pipeline) closeStore(st Store) {
	if err := st.Close(); err != nil {
		p.logger.Warn("close store failed", zap.Error(err))
	}
}
