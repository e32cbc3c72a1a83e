// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	gcpstorage "cloud.google.com/go/storage"
	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/api"
	gcsarchive "github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive/gcs"
	localarchive "github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive/local"
	memoryarchive "github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive/memory"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/clock/system"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/config"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/dispatcher"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/extract"
	collyfetcher "github.com/JakeFAU/worldbank-gdp-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/id/uuid"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/mirror/postgres"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/normalize"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/pipeline"
	memorypublisher "github.com/JakeFAU/worldbank-gdp-pipeline/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/worldbank-gdp-pipeline/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/worldbank-gdp-pipeline/internal/queue/memory"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/scheduler"
	memoryStorage "github.com/JakeFAU/worldbank-gdp-pipeline/internal/storage/memory"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/store"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/telemetry"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/worker"
)

const serviceName = "worldbank-gdp-pipeline"

// App holds the shared, long-lived services for one process. It is built once at
// startup from the loaded configuration and closed on shutdown.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	pipeline   *pipeline.Pipeline
	queue      *queueMemory.Queue
	runStore   *memoryStorage.RunStore
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *api.Server

	closers []func() error
}

// New wires every component named by cfg. Side outputs (archive, mirror, Pub/Sub) are
// only constructed when configured.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("store_path", cfg.Store.Path),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("mirror", cfg.Mirror.DSN != ""),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	tp, err := telemetry.Init(ctx, telemetry.Config{ServiceName: serviceName})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		BaseURL:           cfg.Source.BaseURL,
		IndicatorPath:     cfg.Source.IndicatorPath,
		UserAgent:         cfg.HTTP.UserAgent,
		Timeout:           cfg.HTTPTimeout(),
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	archive, err := a.newArchive(ctx)
	if err != nil {
		return err
	}
	extractor := extract.New(fetcher, archive, sha256.New(), extract.Config{
		PerPage:          cfg.Source.PerPage,
		FirstPageFailure: extract.FirstPagePolicy(cfg.Extract.FirstPageFailure),
	}, a.logger.Named("extract"))

	reporter, err := report.New(cfg.Report.Years)
	if err != nil {
		return fmt.Errorf("init report: %w", err)
	}
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return fmt.Errorf("init report: %w", err)
	}

	clock := system.New()
	deps := pipeline.Deps{Clock: clock}
	if cfg.Mirror.DSN != "" {
		mirror, err := postgres.New(ctx, postgres.Config{DSN: cfg.Mirror.DSN, MaxConns: cfg.Mirror.MaxConns})
		if err != nil {
			return fmt.Errorf("init mirror: %w", err)
		}
		a.closers = append(a.closers, func() error { mirror.Close(); return nil })
		if err := mirror.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("init mirror schema: %w", err)
		}
		deps.Mirror = mirror
	}
	if cfg.PubSub.TopicName != "" {
		publisher, err := a.newPublisher(ctx)
		if err != nil {
			return err
		}
		deps.Publisher = publisher
	}

	storeCfg := store.Config{Driver: store.Driver(cfg.Store.Driver), Path: cfg.Store.Path}
	storeLogger := a.logger.Named("store")
	open := func(ctx context.Context) (pipeline.Store, error) {
		st, err := store.Open(ctx, storeCfg, storeLogger)
		if err != nil {
			return nil, err
		}
		return st, nil
	}

	a.pipeline = pipeline.New(extractor, open, reporter, deps, pipeline.Config{
		MalformedRecords:  normalize.Policy(cfg.Normalize.MalformedRecords),
		SkipLoadWhenEmpty: cfg.Pipeline.SkipLoadWhenEmpty,
		ShowLoadedTables:  cfg.Report.ShowLoadedTables,
		Format:            format,
		Topic:             cfg.PubSub.TopicName,
		Retry:             pipeline.RetryPolicy{Retries: cfg.Scheduler.Retries, Delay: cfg.RetryDelay()},
	}, a.logger)

	a.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	a.runStore = memoryStorage.NewRunStore(clock, cfg.Pipeline.RunHistory)
	// The store is a single file; one worker keeps runs from overlapping.
	workers := []*worker.Worker{
		worker.New(a.queue, a.runStore, a.pipeline, a.logger.Named("worker").With(zap.Int("index", 0))),
	}
	a.dispatcher = dispatcher.New(a.queue, a.runStore, uuid.New(), clock, workers, a.logger)

	a.scheduler, err = scheduler.New(cfg.Scheduler.Cron, cfg.Location(), a.dispatcher, a.logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	a.server = api.NewServer(a.runStore, a.dispatcher, a.pipeline, cfg, a.logger.Named("api"))
	return nil
}

func (a *App) newArchive(ctx context.Context) (etl.PageArchive, error) {
	cfg := a.cfg.Archive
	switch cfg.Provider {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		return memoryarchive.New(cfg.Prefix), nil
	case config.ArchiveLocal:
		archive, err := localarchive.New(localarchive.Config{BaseDir: cfg.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return archive, nil
	case config.ArchiveGCS:
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		archive, err := gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, archive.Close)
		return archive, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", cfg.Provider)
	}
}

// newPublisher returns a Pub/Sub publisher when a project is configured and an
// in-memory publisher otherwise, so notifications can be inspected locally.
func (a *App) newPublisher(ctx context.Context) (etl.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("pubsub.project_id not set; notifications are kept in memory")
		return memorypublisher.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.closers = append(a.closers, publisher.Close)
	return publisher, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pipeline returns the ETL pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// RunStore returns the run history.
func (a *App) RunStore() *memoryStorage.RunStore { return a.runStore }

// Dispatcher returns the run dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Scheduler returns the cron scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Server returns the HTTP API.
func (a *App) Server() *api.Server { return a.server }

// Close shuts down the queue and every side output client. It is safe to call more than once.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
}
