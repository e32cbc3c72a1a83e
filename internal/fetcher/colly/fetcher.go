// Package collyfetcher implements etl.PageFetcher for the indicator API using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/policy/ratelimit"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior and the endpoint being paged.
type Config struct {
	// BaseURL is the API prefix including the country selector, ending in "/".
	BaseURL string
	// IndicatorPath is appended to BaseURL, e.g. "indicator/NY.GDP.MKTP.CD".
	IndicatorPath string
	UserAgent     string
	Timeout       time.Duration
	// RequestsPerSecond paces page requests; zero or less disables pacing.
	RequestsPerSecond float64
}

// Fetcher implements etl.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// pageResult is filled in by the collector callbacks.
type pageResult struct {
	statusCode int
	body       []byte
	err        error
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: 1}),
	}, nil
}

// PageURL renders the request URL for a page.
func (f *Fetcher) PageURL(page, perPage int) string {
	return fmt.Sprintf("%s%s?format=json&page=%d&per_page=%d", f.cfg.BaseURL, f.cfg.IndicatorPath, page, perPage)
}

// FetchPage executes a single HTTP GET for one page and decodes the envelope.
// Any failure is returned as an *etl.PageError.
func (f *Fetcher) FetchPage(ctx context.Context, page, perPage int) (etl.Page, error) {
	if page < 1 {
		return etl.Page{}, &etl.PageError{Page: page, Err: fmt.Errorf("page must be >= 1")}
	}
	pageURL := f.PageURL(page, perPage)
	if err := f.limiter.Wait(ctx, pageURL); err != nil {
		return etl.Page{}, &etl.PageError{Page: page, Err: err}
	}

	var result pageResult
	collector := f.buildCollector(&result)
	if err := f.runCollector(ctx, collector, pageURL, &result); err != nil {
		return etl.Page{}, &etl.PageError{Page: page, StatusCode: result.statusCode, Err: err}
	}
	if result.statusCode != http.StatusOK {
		return etl.Page{}, &etl.PageError{
			Page:       page,
			StatusCode: result.statusCode,
			Err:        fmt.Errorf("unexpected status %d", result.statusCode),
		}
	}

	meta, records, err := DecodeEnvelope(result.body)
	if err != nil {
		return etl.Page{}, &etl.PageError{Page: page, StatusCode: result.statusCode, Err: err}
	}
	return etl.Page{
		Number:  page,
		Meta:    meta,
		Records: records,
		Body:    result.body,
	}, nil
}

func (f *Fetcher) buildCollector(result *pageResult) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	f.configureCollectorHooks(collector, result)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *pageResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.statusCode = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.statusCode = r.StatusCode
		}
		result.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *pageResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.err != nil {
			return fmt.Errorf("colly response failed: %w", result.err)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
