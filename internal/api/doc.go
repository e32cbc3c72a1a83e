// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a pipeline run, GET /v1/runs and /v1/runs/{run_id}
//     to inspect run history.
//   - GET /v1/report?format=json|csv|table to read the GDP pivot report.
package api
