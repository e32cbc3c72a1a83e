// Package store persists countries and GDP observations in an embedded analytical
// database (DuckDB by default, SQLite for tests) through database/sql.
package store
