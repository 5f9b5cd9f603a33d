/*
Package coordinator serializes hot reloads.

Watcher triggers enter a two-state machine (idle, reloading). A trigger in
idle starts a reload on a background goroutine: wait the quiesce delay, run
the loader, publish the complete new registration set to subscribers, then
release superseded containers. Triggers arriving mid-reload collapse into a
single pending follow-up, so a burst of filesystem events or feed downloads
produces exactly one extra reload. Stop is terminal.

Subscribers receive replacement sets, never diffs, and they run on the
reload goroutine: the worker swap a subscriber performs finishes before the
old generation's containers are released.
*/
package coordinator
