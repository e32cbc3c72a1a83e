// Package postgres mirrors normalized batches into Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type txPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	createCountrySQL = `CREATE TABLE IF NOT EXISTS country (
	id TEXT PRIMARY KEY,
	name TEXT,
	iso3_code TEXT
)`
	createGDPSQL = `CREATE TABLE IF NOT EXISTS gdp (
	country_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	value DOUBLE PRECISION,
	PRIMARY KEY (country_id, year)
)`
	upsertCountrySQL = `INSERT INTO country (id, name, iso3_code) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, iso3_code = EXCLUDED.iso3_code`
	upsertGDPSQL = `INSERT INTO gdp (country_id, year, value) VALUES ($1, $2, $3)
ON CONFLICT (country_id, year) DO UPDATE SET value = EXCLUDED.value`
)

// Mirror writes batches to Postgres with ON CONFLICT upserts.
type Mirror struct {
	pool txPool
}

// New connects a pool using the provided config.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mirror.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Mirror{pool: pool}, nil
}

// NewWithPool constructs a mirror from an existing pool (primarily for testing).
func NewWithPool(pool txPool) (*Mirror, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Mirror{pool: pool}, nil
}

// EnsureSchema creates the mirror tables if they are missing.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createCountrySQL, createGDPSQL} {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mirror schema: %w", err)
		}
	}
	return nil
}

// MirrorBatch upserts the batch inside one transaction, countries first.
func (m *Mirror) MirrorBatch(ctx context.Context, batch etl.Batch) (err error) {
	if m == nil || m.pool == nil {
		return errors.New("mirror is not configured")
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, c := range batch.Countries {
		if _, err = tx.Exec(ctx, upsertCountrySQL, c.ID, c.Name, c.ISO3Code); err != nil {
			return fmt.Errorf("mirror country %s: %w", c.ID, err)
		}
	}
	for _, o := range batch.Observations {
		var value any
		if o.Value != nil {
			value = *o.Value
		}
		if _, err = tx.Exec(ctx, upsertGDPSQL, o.CountryID, o.Year, value); err != nil {
			return fmt.Errorf("mirror gdp %s/%d: %w", o.CountryID, o.Year, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror tx: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (m *Mirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}
