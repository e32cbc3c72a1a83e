package report

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/store"
)

type fakeQuerier struct {
	gotSQL string
	table  etl.Table
	err    error
}

func (f *fakeQuerier) Query(_ context.Context, query string, _ ...any) (etl.Table, error) {
	f.gotSQL = query
	return f.table, f.err
}

func TestNewDefaultsYears(t *testing.T) {
	t.Parallel()

	r, err := New(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultYears, r.Years())
	for _, y := range DefaultYears {
		require.Contains(t, r.SQL(), "WHEN g.year = "+itoa(y)+" THEN")
	}
	require.Contains(t, r.SQL(), "LEFT JOIN gdp g ON c.id = g.country_id")
	require.True(t, strings.HasSuffix(r.SQL(), "ORDER BY c.name"))
}

func TestNewRejectsBadYears(t *testing.T) {
	t.Parallel()

	tests := map[string][]int{
		"too few":   {2019, 2020},
		"too many":  {2018, 2019, 2020, 2021, 2022, 2023},
		"duplicate": {2019, 2019, 2020, 2021, 2022},
		"negative":  {-1, 2019, 2020, 2021, 2022},
	}
	for name, years := range tests {
		years := years
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := New(years)
			require.ErrorIs(t, err, etl.ErrInvalidReport)
		})
	}
}

func TestRunPropagatesQueryError(t *testing.T) {
	t.Parallel()

	r, err := New(nil)
	require.NoError(t, err)
	q := &fakeQuerier{err: errors.New("no such table: country")}

	_, err = r.Run(context.Background(), q)
	require.ErrorContains(t, err, "report query")
	require.Equal(t, r.SQL(), q.gotSQL)
}

func TestRunAgainstStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "gdp.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))

	value := 450000000000.0
	_, err = s.Upsert(ctx, etl.Batch{
		Countries: []etl.Country{
			{ID: "ARG", Name: "Argentina", ISO3Code: "ARG"},
			{ID: "BOL", Name: "Bolivia", ISO3Code: "BOL"},
		},
		Observations: []etl.Observation{{CountryID: "ARG", Year: 2020, Value: &value}},
	})
	require.NoError(t, err)

	r, err := New(nil)
	require.NoError(t, err)
	table, err := r.Run(ctx, s)
	require.NoError(t, err)

	require.Equal(t, []string{"id", "name", "iso3_code", "2019", "2020", "2021", "2022", "2023"}, table.Columns)
	require.Len(t, table.Rows, 2)

	records := table.Records()
	require.Equal(t, "Argentina", records[0]["name"])
	require.InDelta(t, 450.0, records[0]["2020"], 1e-9)
	require.Nil(t, records[0]["2019"])
	require.Equal(t, "Bolivia", records[1]["name"])
	require.Nil(t, records[1]["2020"])

	var out strings.Builder
	require.NoError(t, Render(&out, table, FormatCSV))
	require.Contains(t, out.String(), "ARG,Argentina,ARG,,450.0,,,\n")
}

func itoa(y int) string {
	return FormatValue(y, "")
}
