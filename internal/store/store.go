package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers the "duckdb" database/sql driver.
	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/metrics"
)

// Driver names a supported database/sql driver.
type Driver string

// Supported drivers.
const (
	DriverDuckDB Driver = "duckdb"
	DriverSQLite Driver = "sqlite"
)

// Valid reports whether d is a supported driver.
func (d Driver) Valid() bool {
	return d == DriverDuckDB || d == DriverSQLite
}

// Config selects the driver and database file. A ReadOnly store rejects every write,
// including schema changes.
type Config struct {
	Driver   Driver
	Path     string
	ReadOnly bool
}

func dataSourceName(driver Driver, path string, readOnly bool) string {
	if !readOnly {
		return path
	}
	if driver == DriverSQLite {
		return path + "?_pragma=query_only(1)"
	}
	return path + "?access_mode=read_only"
}

const (
	createCountrySQL = `CREATE TABLE IF NOT EXISTS country (
	id VARCHAR PRIMARY KEY,
	name VARCHAR,
	iso3_code VARCHAR
)`
	createGDPSQL = `CREATE TABLE IF NOT EXISTS gdp (
	country_id VARCHAR,
	year INTEGER,
	value DOUBLE,
	PRIMARY KEY (country_id, year)
)`
	upsertCountrySQL = `INSERT OR REPLACE INTO country (id, name, iso3_code) VALUES (?, ?, ?)`
	upsertGDPSQL     = `INSERT OR REPLACE INTO gdp (country_id, year, value) VALUES (?, ?, ?)`
)

// Store wraps a single-connection *sql.DB.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens the database file and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverDuckDB
	}
	if !driver.Valid() {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store.path is required")
	}
	db, err := sql.Open(string(driver), dataSourceName(driver, cfg.Path, cfg.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := NewWithDB(db, logger)
	s.logger.Debug("store opened",
		zap.String("driver", string(driver)),
		zap.String("path", cfg.Path),
		zap.Bool("read_only", cfg.ReadOnly),
	)
	return s, nil
}

// NewWithDB wraps an existing handle (primarily for testing).
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// EnsureSchema creates the country and gdp tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createCountrySQL, createGDPSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert writes the batch in one transaction, countries first. Rows with an existing key
// are replaced. Any failure rolls back the whole batch.
func (s *Store) Upsert(ctx context.Context, batch etl.Batch) (res etl.UpsertResult, err error) {
	batch = batch.Collapse()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return etl.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		res = etl.UpsertResult{}
	}()

	countryStmt, err := tx.PrepareContext(ctx, upsertCountrySQL)
	if err != nil {
		return res, fmt.Errorf("prepare country upsert: %w", err)
	}
	defer countryStmt.Close()
	for _, c := range batch.Countries {
		if _, err = countryStmt.ExecContext(ctx, c.ID, c.Name, c.ISO3Code); err != nil {
			return res, fmt.Errorf("upsert country %s: %w", c.ID, err)
		}
		res.Countries++
	}

	gdpStmt, err := tx.PrepareContext(ctx, upsertGDPSQL)
	if err != nil {
		return res, fmt.Errorf("prepare gdp upsert: %w", err)
	}
	defer gdpStmt.Close()
	for _, o := range batch.Observations {
		var value any
		if o.Value != nil {
			value = *o.Value
		}
		if _, err = gdpStmt.ExecContext(ctx, o.CountryID, o.Year, value); err != nil {
			return res, fmt.Errorf("upsert gdp %s/%d: %w", o.CountryID, o.Year, err)
		}
		res.Observations++
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("commit upsert: %w", err)
	}
	metrics.ObserveRecordsLoaded("country", res.Countries)
	metrics.ObserveRecordsLoaded("gdp", res.Observations)
	s.logger.Info("batch upserted",
		zap.Int("countries", res.Countries),
		zap.Int("observations", res.Observations),
	)
	return res, nil
}

// Query runs a read statement and buffers the full result. The statement runs inside a
// transaction that is always rolled back, so a write never persists through Query.
func (s *Store) Query(ctx context.Context, query string, args ...any) (etl.Table, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return etl.Table{}, fmt.Errorf("begin query: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("query rollback failed", zap.Error(rbErr))
		}
	}()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return etl.Table{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return etl.Table{}, fmt.Errorf("columns: %w", err)
	}
	table := etl.Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return etl.Table{}, fmt.Errorf("scan row: %w", err)
		}
		for i, cell := range cells {
			if b, ok := cell.([]byte); ok {
				cells[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return etl.Table{}, fmt.Errorf("iterate rows: %w", err)
	}
	return table, nil
}

// Counts returns the current row count of both tables.
func (s *Store) Counts(ctx context.Context) (etl.TableCounts, error) {
	var counts etl.TableCounts
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM country").Scan(&counts.Countries); err != nil {
		return etl.TableCounts{}, fmt.Errorf("count country: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gdp").Scan(&counts.Observations); err != nil {
		return etl.TableCounts{}, fmt.Errorf("count gdp: %w", err)
	}
	return counts, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
