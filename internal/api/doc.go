// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawl to enqueue a crawl of stale sources.
//   - /v1/sources, /v1/journalists/{id} and /v1/index/reconcile for the
//     directory itself.
//   - GET /v1/lanes for queue depth per lane.
package api
