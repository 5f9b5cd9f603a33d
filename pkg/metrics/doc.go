// Package metrics exposes Prometheus instrumentation for replug.
//
// Series cover the reload pipeline (reload counts and durations, live
// containers, skipped modules), the worker lifecycle (epoch, running state,
// registered task and workflow counts, drain time) and the feed poller
// (poll outcomes, downloads, circuit breaker state, staging cleanup).
// Handler returns the HTTP handler mounted at /metrics by pkg/api.
package metrics
