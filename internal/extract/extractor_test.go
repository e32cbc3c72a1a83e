package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    int
	perPage  int
	failures map[int]error
	calls    []int
	cancelAt int
	cancel   context.CancelFunc
}

func (f *fakeFetcher) FetchPage(_ context.Context, page, perPage int) (etl.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)
	f.perPage = perPage
	if f.cancel != nil && page == f.cancelAt {
		f.cancel()
	}
	if err, ok := f.failures[page]; ok {
		return etl.Page{}, err
	}
	records := make([]etl.RawIndicatorRecord, 0, 2)
	for i := 0; i < 2; i++ {
		records = append(records, etl.RawIndicatorRecord{
			Country: etl.Ref{ID: "AR", Value: "Argentina"},
			Date:    fmt.Sprintf("%d", 2000+page*10+i),
		})
	}
	return etl.Page{
		Number:  page,
		Meta:    etl.PageMeta{Page: page, Pages: f.pages, PerPage: perPage},
		Records: records,
		Body:    []byte(fmt.Sprintf(`page-%d`, page)),
	}, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	refs []etl.PageRef
	err  error
}

func (a *fakeArchive) PutPage(_ context.Context, ref etl.PageRef, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.refs = append(a.refs, ref)
	return "memory://" + ref.RunID, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return "h-" + string(data), nil
}

func dates(records []etl.RawIndicatorRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Date)
	}
	return out
}

func pageErr(page, status int) error {
	return &etl.PageError{Page: page, StatusCode: status, Err: errors.New("unexpected status")}
}

func TestExtractConcatenatesPagesInOrder(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 3}
	ex := New(fetcher, nil, nil, Config{PerPage: 50}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, fetcher.calls)
	require.Equal(t, 50, fetcher.perPage)
	require.Len(t, result.Records, 6)
	require.Equal(t, []string{"2010", "2011", "2020", "2021", "2030", "2031"}, dates(result.Records))
	require.Equal(t, 3, result.TotalPages)
	require.Equal(t, 3, result.FetchedPages)
	require.Empty(t, result.FailedPages)
}

func TestExtractFirstPageFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 5, failures: map[int]error{1: pageErr(1, 500)}}
	ex := New(fetcher, nil, nil, Config{}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Records)
	require.Equal(t, []int{1}, fetcher.calls, "no further pages may be requested")
	require.Equal(t, []int{1}, result.FailedPages)
}

func TestExtractFirstPageFailurePolicyFail(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 5, failures: map[int]error{1: pageErr(1, 502)}}
	ex := New(fetcher, nil, nil, Config{FirstPageFailure: FirstPageFail}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.ErrorIs(t, err, etl.ErrFirstPageFailed)
	require.ErrorIs(t, err, etl.ErrPageFetch)
	require.Empty(t, result.Records)
}

func TestExtractSkipsIntermediateFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 4, failures: map[int]error{3: pageErr(3, 503)}}
	ex := New(fetcher, nil, nil, Config{}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4}, fetcher.calls)
	require.Equal(t, []string{"2010", "2011", "2020", "2021", "2040", "2041"}, dates(result.Records))
	require.Equal(t, []int{3}, result.FailedPages)
	require.Equal(t, 3, result.FetchedPages)
}

func TestExtractSinglePage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 1}
	ex := New(fetcher, nil, nil, Config{}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1}, fetcher.calls)
	require.Len(t, result.Records, 2)
}

func TestExtractStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &fakeFetcher{pages: 5, cancelAt: 2, cancel: cancel}
	ex := New(fetcher, nil, nil, Config{}, zap.NewNop())

	result, err := ex.Extract(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []int{1, 2}, fetcher.calls)
	require.Len(t, result.Records, 4)
}

func TestExtractArchivesRawPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 2}
	archive := &fakeArchive{}
	ex := New(fetcher, archive, fakeHasher{}, Config{}, zap.NewNop())

	ctx := etl.ContextWithRunID(context.Background(), "run-1")
	_, err := ex.Extract(ctx)
	require.NoError(t, err)
	require.Equal(t, []etl.PageRef{
		{RunID: "run-1", Page: 1, Digest: "h-page-1"},
		{RunID: "run-1", Page: 2, Digest: "h-page-2"},
	}, archive.refs)
}

func TestExtractArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: 2}
	archive := &fakeArchive{err: errors.New("bucket gone")}
	ex := New(fetcher, archive, fakeHasher{}, Config{}, zap.NewNop())

	result, err := ex.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 4)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	ex := New(&fakeFetcher{}, nil, nil, Config{FirstPageFailure: "bogus"}, nil)
	require.Equal(t, defaultPerPage, ex.cfg.PerPage)
	require.Equal(t, FirstPageEmpty, ex.cfg.FirstPageFailure)
	require.True(t, FirstPageFail.Valid())
	require.False(t, FirstPagePolicy("").Valid())
}
