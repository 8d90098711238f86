// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Task submission, listing, status and cancellation
//   - Per-node results of finished runs
//   - The agent and tool catalogs
//   - Health checks and Prometheus metrics
//
// Errors use a single envelope:
//
//	{"error": {"code": "VALIDATION_FAILED", "message": "...", "details": {...}}}
package http
