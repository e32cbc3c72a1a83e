// Package report builds the GDP pivot query and renders tabular results.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// YearCount is the number of year columns in the pivot.
const YearCount = 5

// DefaultYears are the pivot columns used when none are configured.
var DefaultYears = []int{2019, 2020, 2021, 2022, 2023}

// Statements used to dump the raw tables after a load.
const (
	CountryTableSQL = "SELECT * FROM country c ORDER BY c.id"
	GDPTableSQL     = "SELECT * FROM gdp g ORDER BY g.country_id"
)

// Querier runs read-only SQL. *store.Store satisfies it.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (etl.Table, error)
}

// Reporter owns the pivot definition.
type Reporter struct {
	years []int
	sql   string
}

// New validates the year list and builds the pivot statement.
func New(years []int) (*Reporter, error) {
	if len(years) == 0 {
		years = DefaultYears
	}
	if len(years) != YearCount {
		return nil, fmt.Errorf("%w: need exactly %d years, got %d", etl.ErrInvalidReport, YearCount, len(years))
	}
	seen := make(map[int]struct{}, len(years))
	for _, y := range years {
		if y <= 0 {
			return nil, fmt.Errorf("%w: year %d out of range", etl.ErrInvalidReport, y)
		}
		if _, dup := seen[y]; dup {
			return nil, fmt.Errorf("%w: duplicate year %d", etl.ErrInvalidReport, y)
		}
		seen[y] = struct{}{}
	}
	cp := append([]int(nil), years...)
	return &Reporter{years: cp, sql: buildPivot(cp)}, nil
}

// Years returns the pivot years in column order.
func (r *Reporter) Years() []int {
	return append([]int(nil), r.years...)
}

// SQL returns the pivot statement.
func (r *Reporter) SQL() string {
	return r.sql
}

// Run executes the pivot. Countries without observations appear with null year columns.
func (r *Reporter) Run(ctx context.Context, q Querier) (etl.Table, error) {
	table, err := q.Query(ctx, r.sql)
	if err != nil {
		return etl.Table{}, fmt.Errorf("report query: %w", err)
	}
	return table, nil
}

func buildPivot(years []int) string {
	var b strings.Builder
	b.WriteString("SELECT\n\tc.id,\n\tc.name,\n\tc.iso3_code")
	for _, y := range years {
		fmt.Fprintf(&b, ",\n\tROUND(MAX(CASE WHEN g.year = %d THEN g.value END) / 1e9, 2) AS \"%d\"", y, y)
	}
	b.WriteString("\nFROM country c\nLEFT JOIN gdp g ON c.id = g.country_id\n")
	b.WriteString("GROUP BY c.id, c.name, c.iso3_code\nORDER BY c.name")
	return b.String()
}
