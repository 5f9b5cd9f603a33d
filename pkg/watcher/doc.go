/*
Package watcher detects when new or updated plugin artifacts become
available and emits reload triggers.

Two variants implement the Watcher contract. FSWatcher watches plugin
directories through fsnotify and coalesces write bursts into a single
rescan trigger. FeedPoller polls a package feed over a minimal HTTP+JSON
protocol subset (search, registration index, flat-container download),
stages new package versions on disk, and emits a trigger per download.
Feed failures feed a circuit breaker that suspends polling after five
consecutive failed polls for five minutes; a 404 on an individual package
is not a failure. A cleanup pass removes staged packages older than the
retention window.
*/
package watcher
