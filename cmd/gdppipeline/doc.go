// Package main hosts the gdppipeline entrypoint.
//
// Architecture overview:
//   - Extract: the Colly-based fetcher walks every page of the indicator endpoint. Page 1
//     supplies the page count; later page failures are logged and skipped. Raw pages can be
//     archived to memory, a local directory or GCS.
//   - Load: records are normalized into country and gdp rows and upserted in one
//     transaction into DuckDB (or SQLite). A Postgres mirror and a Pub/Sub notification are
//     optional side outputs that never fail a run.
//   - Query: a five-year pivot of GDP per country, rendered as a table, CSV or JSON.
//   - Scheduling: robfig/cron fires a run daily at 08:00 in the configured timezone. Each
//     phase is retried per scheduler.retries. Runs flow through a bounded queue to a single
//     worker so the database file is never written concurrently.
//   - HTTP API: chi routes for probes, Prometheus metrics, run submission and the report.
//
// Quick checklist:
//   - One run: gdppipeline run [--config config.yaml]
//   - Daily schedule: gdppipeline schedule
//   - Service: gdppipeline serve (listens on server.port, overridable via PORT)
//   - Env overrides: GDP_STORE_PATH, GDP_STORE_DRIVER, GDP_SCHEDULER_CRON, GDP_ARCHIVE_PROVIDER, ...
package main
