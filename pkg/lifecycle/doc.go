/*
Package lifecycle owns the Temporal worker.

The manager dials the orchestration service (bounded retries, exponential
backoff), performs the synchronous initial load, and runs a worker for the
configured task queue. On every reload event it captures and clears the
current worker under the mutex, signals it to stop polling, polls for its
run loop to terminate (100ms interval, 10s cap), lets finalizers settle,
and starts a fresh worker with the complete new registration set. A reload
that arrives with an empty set, or an initial load that finds no plugins,
substitutes the baseline set injected at construction so the worker never
runs with nothing to do.

Every successful (re)start allocates a new epoch. Mutations compare their
captured epoch against the current one and abandon themselves when a newer
worker already exists, so a slow reload can never clobber a fast one. Stop
behaves like a reload with no restart, capped at fifteen seconds.
*/
package lifecycle
