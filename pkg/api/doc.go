// Package api exposes the operational HTTP surface: GET /health with
// worker and memory status, and GET /metrics with Prometheus series.
package api
