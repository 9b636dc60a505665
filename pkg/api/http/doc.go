// Package http provides the HTTP API implementation.
//
// The HTTP server exposes endpoints for:
//   - WebSocket sessions on the root path (Upgrade requests)
//   - Count job submission and result lookup
//   - Static files from an optional docs directory
//   - Health checks
//   - Prometheus metrics
package http
