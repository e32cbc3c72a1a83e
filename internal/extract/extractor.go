// Package extract drives a PageFetcher across every page of the indicator result set.
package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/metrics"
)

// FirstPagePolicy decides what happens when page 1 cannot be fetched.
type FirstPagePolicy string

// Supported first-page policies.
const (
	// FirstPageEmpty logs the failure and yields an empty result.
	FirstPageEmpty FirstPagePolicy = "empty"
	// FirstPageFail returns an error wrapping etl.ErrFirstPageFailed.
	FirstPageFail FirstPagePolicy = "fail"
)

// Valid reports whether p is a known policy.
func (p FirstPagePolicy) Valid() bool {
	return p == FirstPageEmpty || p == FirstPageFail
}

const defaultPerPage = 50

// Config controls Extractor behavior.
type Config struct {
	PerPage          int
	FirstPageFailure FirstPagePolicy
}

// Extractor walks all pages and flattens their records in page order.
type Extractor struct {
	fetcher etl.PageFetcher
	archive etl.PageArchive
	hasher  etl.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Extractor. archive and hasher may be nil to disable raw page archiving.
func New(
	fetcher etl.PageFetcher,
	archive etl.PageArchive,
	hasher etl.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Extractor {
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if !cfg.FirstPageFailure.Valid() {
		cfg.FirstPageFailure = FirstPageEmpty
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher: fetcher,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}
}

// Extract fetches page 1, reads the total page count from its metadata and then fetches
// pages 2..pages. Failed pages after the first are logged and skipped.
func (e *Extractor) Extract(ctx context.Context) (etl.ExtractResult, error) {
	first, err := e.fetcher.FetchPage(ctx, 1, e.cfg.PerPage)
	if err != nil {
		if ctx.Err() != nil {
			return etl.ExtractResult{}, fmt.Errorf("extract canceled: %w", ctx.Err())
		}
		metrics.ObservePage("failed")
		e.logger.Error("failed to extract first page",
			zap.Int("page", 1),
			zap.Int("status", etl.StatusCodeOf(err)),
			zap.Error(err),
		)
		result := etl.ExtractResult{FailedPages: []int{1}}
		if e.cfg.FirstPageFailure == FirstPageFail {
			return result, fmt.Errorf("%w: %w", etl.ErrFirstPageFailed, err)
		}
		return result, nil
	}

	result := etl.ExtractResult{TotalPages: first.Meta.Pages}
	e.accept(ctx, &result, first)

	for page := 2; page <= first.Meta.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("extract canceled: %w", err)
		}
		p, err := e.fetcher.FetchPage(ctx, page, e.cfg.PerPage)
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("extract canceled: %w", ctx.Err())
			}
			metrics.ObservePage("failed")
			e.logger.Warn("failed to extract page",
				zap.Int("page", page),
				zap.Int("pages", first.Meta.Pages),
				zap.Int("status", etl.StatusCodeOf(err)),
				zap.Error(err),
			)
			result.FailedPages = append(result.FailedPages, page)
			continue
		}
		e.accept(ctx, &result, p)
	}

	e.logger.Info("extract finished",
		zap.Int("records", len(result.Records)),
		zap.Int("pages", result.TotalPages),
		zap.Ints("failed_pages", result.FailedPages),
	)
	return result, nil
}

func (e *Extractor) accept(ctx context.Context, result *etl.ExtractResult, page etl.Page) {
	metrics.ObservePage("ok")
	metrics.ObserveRecordsExtracted(len(page.Records))
	result.FetchedPages++
	result.Records = append(result.Records, page.Records...)
	e.logger.Debug("page extracted", zap.Int("page", page.Number), zap.Int("records", len(page.Records)))
	e.archivePage(ctx, page)
}

func (e *Extractor) archivePage(ctx context.Context, page etl.Page) {
	if e.archive == nil || e.hasher == nil || len(page.Body) == 0 {
		return
	}
	digest, err := e.hasher.Hash(page.Body)
	if err != nil {
		e.logger.Warn("hash page body failed", zap.Int("page", page.Number), zap.Error(err))
		return
	}
	ref := etl.PageRef{RunID: etl.RunIDFromContext(ctx), Page: page.Number, Digest: digest}
	uri, err := e.archive.PutPage(ctx, ref, page.Body)
	if err != nil {
		e.logger.Warn("archive page failed", zap.Int("page", page.Number), zap.Error(err))
		return
	}
	e.logger.Debug("page archived", zap.Int("page", page.Number), zap.String("uri", uri))
}
