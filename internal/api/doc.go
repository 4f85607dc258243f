// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - GET /api/preview?url=... returns a link preview payload.
//   - POST /internal/refresh-screenshots refreshes the configured URL list
//     (bearer token protected).
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - Anything else is served from the static asset directory with an
//     index.html fallback for client-side routing.
package api
