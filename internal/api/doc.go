// Package api hosts the liveness responder. Routes:
//   - GET / returns a static banner for uptime pings.
//   - GET /healthz and /readyz for container probes.
//   - GET /metrics for Prometheus scraping.
package api
