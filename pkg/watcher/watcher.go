package watcher

import (
	"context"

	"github.com/replugio/replug/pkg/artifact"
)

// Trigger is fired when a watcher has identified new or updated plugin
// artifacts. An empty Artifacts slice means "something changed, rescan".
type Trigger struct {
	Artifacts []artifact.Artifact
}

// Watcher emits reload triggers. Start and Stop are idempotent; in-flight
// triggers may still be delivered after Stop returns.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
	Triggers() <-chan Trigger
}
