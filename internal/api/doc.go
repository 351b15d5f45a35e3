// Package api hosts the operational HTTP surface of a running crawl:
//   - GET /healthz and /readyz for process probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for a snapshot of the current session.
package api
