package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/clock/system"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/normalize"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/publisher/memory"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/report"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/store"
)

type fakeExtractor struct {
	mu      sync.Mutex
	results []etl.ExtractResult
	errs    []error
	calls   int
}

func (f *fakeExtractor) Extract(context.Context) (etl.ExtractResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return etl.ExtractResult{}, err
	}
	if len(f.results) == 0 {
		return etl.ExtractResult{}, nil
	}
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

type fakeMirror struct {
	batches []etl.Batch
	err     error
}

func (m *fakeMirror) MirrorBatch(_ context.Context, b etl.Batch) error {
	m.batches = append(m.batches, b)
	return m.err
}

func (m *fakeMirror) Close() {}

func argentinaRecord(date, value string) etl.RawIndicatorRecord {
	return etl.RawIndicatorRecord{
		Indicator:       etl.Ref{ID: "NY.GDP.MKTP.CD", Value: "GDP (current US$)"},
		Country:         etl.Ref{ID: "ARG", Value: "Argentina"},
		CountryISO3Code: "ARG",
		Date:            date,
		Value:           json.RawMessage(value),
	}
}

func storeOpener(t *testing.T, driver store.Driver) StoreOpener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gdp.db")
	return func(ctx context.Context) (Store, error) {
		return store.Open(ctx, store.Config{Driver: driver, Path: path}, zap.NewNop())
	}
}

func newTestPipeline(t *testing.T, ext Extractor, deps Deps, cfg Config) *Pipeline {
	t.Helper()
	return newDriverPipeline(t, store.DriverSQLite, ext, deps, cfg)
}

func newDriverPipeline(t *testing.T, driver store.Driver, ext Extractor, deps Deps, cfg Config) *Pipeline {
	t.Helper()
	reporter, err := report.New(nil)
	require.NoError(t, err)
	if cfg.Format == "" {
		cfg.Format = report.FormatCSV
	}
	return New(ext, storeOpener(t, driver), reporter, deps, cfg, zap.NewNop())
}

func TestRunEndToEndArgentina2020(t *testing.T) {
	t.Parallel()

	for _, driver := range []store.Driver{store.DriverSQLite, store.DriverDuckDB} {
		driver := driver
		t.Run(string(driver), func(t *testing.T) {
			t.Parallel()
			ext := &fakeExtractor{results: []etl.ExtractResult{{
				Records:      []etl.RawIndicatorRecord{argentinaRecord("2020", "450000000000")},
				TotalPages:   1,
				FetchedPages: 1,
			}}}
			p := newDriverPipeline(t, driver, ext, Deps{}, Config{})

			var out strings.Builder
			summary, err := p.Run(context.Background(), &out)
			require.NoError(t, err)
			require.Equal(t, 1, summary.Records)
			require.Equal(t, etl.UpsertResult{Countries: 1, Observations: 1}, summary.Load.Written)
			require.Equal(t, etl.TableCounts{Countries: 1, Observations: 1}, summary.Load.Totals)
			require.Equal(t, 1, summary.ReportRows)
			require.Contains(t, out.String(), "id,name,iso3_code,2019,2020,2021,2022,2023\n")
			require.Contains(t, out.String(), "ARG,Argentina,ARG,,450.0,,,\n")

			st, err := p.open(context.Background())
			require.NoError(t, err)
			defer st.Close()
			gdp, err := st.Query(context.Background(), "SELECT country_id, year, value FROM gdp")
			require.NoError(t, err)
			require.Len(t, gdp.Rows, 1)
			require.EqualValues(t, 2020, gdp.Rows[0][1])
			require.InDelta(t, 450000000000.0, gdp.Rows[0][2], 0.001)
		})
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: []etl.ExtractResult{{
		Records: []etl.RawIndicatorRecord{
			argentinaRecord("2019", "447754689000"),
			argentinaRecord("2020", "385740508436"),
		},
	}}}
	p := newTestPipeline(t, ext, Deps{}, Config{})

	_, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, etl.TableCounts{Countries: 1, Observations: 2}, summary.Load.Totals)
}

func TestRunEmptyExtractStillQueries(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: []etl.ExtractResult{{FailedPages: []int{1}}}}
	p := newTestPipeline(t, ext, Deps{}, Config{})

	var out strings.Builder
	summary, err := p.Run(context.Background(), &out)
	require.NoError(t, err)
	require.Zero(t, summary.Records)
	require.Equal(t, []int{1}, summary.FailedPages)
	require.Zero(t, summary.ReportRows)
	require.Equal(t, "id,name,iso3_code,2019,2020,2021,2022,2023\n", out.String())
}

func TestRunSkipLoadWhenEmpty(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	ext := &fakeExtractor{}
	p := newTestPipeline(t, ext, Deps{Publisher: pub}, Config{SkipLoadWhenEmpty: true, Topic: "gdp-loads"})

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, etl.LoadSummary{}, summary.Load)
	require.Empty(t, pub.Messages())
}

func TestRunRetriesFailedPhase(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{
		errs:    []error{etl.ErrFirstPageFailed},
		results: []etl.ExtractResult{{Records: []etl.RawIndicatorRecord{argentinaRecord("2020", "1")}}},
	}
	p := newTestPipeline(t, ext, Deps{}, Config{Retry: RetryPolicy{Retries: 1, Delay: time.Millisecond}})

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, ext.calls)
	require.Equal(t, 1, summary.Records)
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{errs: []error{etl.ErrFirstPageFailed, etl.ErrFirstPageFailed}}
	p := newTestPipeline(t, ext, Deps{}, Config{Retry: RetryPolicy{Retries: 1}})

	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, etl.ErrFirstPageFailed)
	require.ErrorContains(t, err, "extract phase")
	require.Equal(t, 2, ext.calls)
}

func TestRunAbortPolicyStopsLoad(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: []etl.ExtractResult{{
		Records: []etl.RawIndicatorRecord{
			argentinaRecord("2020", "1"),
			argentinaRecord("20x0", "1"),
		},
	}}}
	p := newTestPipeline(t, ext, Deps{}, Config{
		MalformedRecords: normalize.PolicyAbort,
		Retry:            RetryPolicy{Retries: 3},
	})

	_, err := p.Run(context.Background(), nil)
	require.ErrorIs(t, err, etl.ErrMalformedRecord)
	require.ErrorContains(t, err, "load phase")

	st, err := p.open(context.Background())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.EnsureSchema(context.Background()))
	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, etl.TableCounts{}, counts)
}

func TestLoadSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &fakeExtractor{}, Deps{}, Config{})
	summary, err := p.Load(context.Background(), []etl.RawIndicatorRecord{
		argentinaRecord("2020", "1"),
		argentinaRecord("", "1"),
		argentinaRecord("2021", "0"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 2, summary.Written.Observations)

	st, err := p.open(context.Background())
	require.NoError(t, err)
	defer st.Close()
	table, err := st.Query(context.Background(), "SELECT value FROM gdp WHERE year = 2021")
	require.NoError(t, err)
	require.Equal(t, [][]any{{nil}}, table.Rows)
}

func TestLoadMirrorsAndNotifies(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{}
	pub := memory.New()
	clk := system.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	ext := &fakeExtractor{results: []etl.ExtractResult{{
		Records:     []etl.RawIndicatorRecord{argentinaRecord("2020", "1"), argentinaRecord("2020", "2")},
		FailedPages: []int{3},
	}}}
	p := newTestPipeline(t, ext, Deps{Mirror: mirror, Publisher: pub, Clock: clk}, Config{Topic: "gdp-loads"})

	ctx := etl.ContextWithRunID(context.Background(), "run-42")
	_, err := p.Run(ctx, nil)
	require.NoError(t, err)

	require.Len(t, mirror.batches, 1)
	require.Len(t, mirror.batches[0].Observations, 1)
	require.InDelta(t, 2.0, *mirror.batches[0].Observations[0].Value, 1e-9)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "gdp-loads", msgs[0].Topic)
	var body struct {
		RunID        string `json:"run_id"`
		Countries    int    `json:"countries"`
		Observations int    `json:"observations"`
		Skipped      int    `json:"skipped"`
		FailedPages  []int  `json:"failed_pages"`
		Timestamp    string `json:"timestamp"`
	}
	require.NoError(t, msgs[0].Decode(&body))
	require.Equal(t, "run-42", body.RunID)
	require.Equal(t, 1, body.Countries)
	require.Equal(t, 1, body.Observations)
	require.Equal(t, []int{3}, body.FailedPages)
	require.Equal(t, "2024-01-01T08:00:00Z", body.Timestamp)
}

func TestSideOutputFailuresDoNotFailRun(t *testing.T) {
	t.Parallel()

	mirror := &fakeMirror{err: errors.New("postgres down")}
	pub := memory.New()
	pub.FailWith(errors.New("broker down"))
	ext := &fakeExtractor{results: []etl.ExtractResult{{Records: []etl.RawIndicatorRecord{argentinaRecord("2020", "1")}}}}
	p := newTestPipeline(t, ext, Deps{Mirror: mirror, Publisher: pub}, Config{Topic: "gdp-loads"})

	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Load.Written.Observations)
}

func TestRunShowsLoadedTables(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{results: []etl.ExtractResult{{Records: []etl.RawIndicatorRecord{argentinaRecord("2020", "450000000000")}}}}
	p := newTestPipeline(t, ext, Deps{}, Config{ShowLoadedTables: true})

	var out strings.Builder
	_, err := p.Run(context.Background(), &out)
	require.NoError(t, err)
	got := out.String()
	require.Contains(t, got, "id,name,iso3_code\nARG,Argentina,ARG\n")
	require.Contains(t, got, "country_id,year,value\nARG,2020,450000000000.0\n")
}

func TestRunCanceledDuringRetryDelay(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{errs: []error{errors.New("dns"), errors.New("dns")}}
	p := newTestPipeline(t, ext, Deps{}, Config{Retry: RetryPolicy{Retries: 1, Delay: time.Hour}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Run(ctx, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, ext.calls)
}
