package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/replugio/replug/pkg/artifact"
	"github.com/replugio/replug/pkg/loader"
	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/metrics"
	"github.com/replugio/replug/pkg/registration"
	"github.com/replugio/replug/pkg/watcher"
)

type state int

const (
	stateIdle state = iota
	stateReloading
	stateStopped
)

// Loader abstracts pkg/loader for the coordinator.
type Loader interface {
	Load(ctx context.Context, arts []artifact.Artifact) (*loader.Container, registration.Set, error)
	Unload(c *loader.Container)
}

// Coordinator converts watcher triggers into strictly serialized reload
// events. At most one reload is in flight; triggers arriving during a
// reload collapse into a single pending follow-up.
type Coordinator struct {
	loader   Loader
	registry *artifact.Registry
	quiesce  time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       state
	pending     bool
	pendingArts []artifact.Artifact
	current     registration.Set
	container   *loader.Container
	subscribers []func(registration.Set)
}

// New creates a coordinator over the given loader and registry.
func New(l Loader, reg *artifact.Registry, quiesce time.Duration) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		loader:   l,
		registry: reg,
		quiesce:  quiesce,
		logger:   log.WithComponent("coordinator"),
		ctx:      ctx,
		cancel:   cancel,
		current:  registration.NewSet(),
	}
}

// Subscribe registers a callback invoked with the complete registration set
// after every successful reload. Callbacks run on the reload goroutine, so a
// slow subscriber serializes with the reload itself; watcher threads are
// never blocked.
func (c *Coordinator) Subscribe(fn func(registration.Set)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Watch consumes a watcher's trigger channel until the coordinator stops.
func (c *Coordinator) Watch(w watcher.Watcher) {
	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case tr, ok := <-w.Triggers():
				if !ok {
					return
				}
				c.Trigger(tr.Artifacts)
			}
		}
	}()
}

// Trigger requests a reload. Never blocks.
func (c *Coordinator) Trigger(arts []artifact.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case stateStopped:
		return
	case stateReloading:
		c.pending = true
		c.pendingArts = append(c.pendingArts, arts...)
	case stateIdle:
		c.state = stateReloading
		go c.reload(arts)
	}
}

// InitialLoad performs the synchronous startup load and returns the
// resulting set without publishing an event.
func (c *Coordinator) InitialLoad(ctx context.Context) (registration.Set, error) {
	container, set, err := c.loader.Load(ctx, nil)
	if err != nil {
		return registration.Set{}, err
	}
	c.mu.Lock()
	c.current = set
	c.container = container
	c.mu.Unlock()
	return set, nil
}

// Current returns the last complete registration set. Never partial: the
// set reference is swapped atomically under the coordinator mutex.
func (c *Coordinator) Current() registration.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop is terminal: it cancels any pending reload and no further events are
// emitted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.state = stateStopped
	c.pending = false
	c.pendingArts = nil
	c.mu.Unlock()
	c.cancel()
}

// reload runs one serialized reload cycle outside the mutex.
func (c *Coordinator) reload(arts []artifact.Artifact) {
	timer := metrics.NewTimer()

	// Let downloaders finish writing before load begins.
	select {
	case <-time.After(c.quiesce):
	case <-c.ctx.Done():
		return
	}

	arts = c.dropSeen(arts)
	container, set, err := c.loader.Load(c.ctx, arts)

	switch {
	case err != nil:
		c.logger.Warn().Err(err).Msg("reload failed")
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
	case set.Empty():
		// A reload that produced nothing never replaces the current worker;
		// the last good set keeps serving.
		c.logger.Warn().Msg("reload produced no registrations, keeping current worker")
		metrics.ReloadsTotal.WithLabelValues("empty").Inc()
		c.loader.Unload(container)
	default:
		c.publish(arts, container, set)
		metrics.ReloadsTotal.WithLabelValues("ok").Inc()
		timer.ObserveDuration(metrics.ReloadDuration)
	}

	c.mu.Lock()
	if c.state == stateStopped {
		c.mu.Unlock()
		return
	}
	if c.pending {
		c.pending = false
		next := c.pendingArts
		c.pendingArts = nil
		go c.reload(next)
		c.mu.Unlock()
		return
	}
	c.state = stateIdle
	c.mu.Unlock()
}

// publish swaps the current set, notifies subscribers, and only then
// releases superseded containers: subscribers drain the old worker before
// any code that might still be running loses its container.
func (c *Coordinator) publish(arts []artifact.Artifact, container *loader.Container, set registration.Set) {
	c.mu.Lock()
	old := c.container
	c.current = set
	c.container = container
	subscribers := make([]func(registration.Set), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	c.logger.Info().
		Int("tasks", len(set.Tasks)).
		Int("workflows", len(set.Workflows)).
		Int64("generation", container.Generation()).
		Msg("reloaded")

	for _, fn := range subscribers {
		fn(set)
	}

	for _, a := range arts {
		if displaced := c.registry.Record(a, container, set); displaced != nil {
			if dc, ok := displaced.(*loader.Container); ok {
				c.loader.Unload(dc)
			}
		}
	}
	if old != nil {
		c.loader.Unload(old)
	}
}

// dropSeen suppresses artifacts already processed with identical content.
func (c *Coordinator) dropSeen(arts []artifact.Artifact) []artifact.Artifact {
	out := arts[:0]
	for _, a := range arts {
		if c.registry.Seen(a) {
			c.logger.Debug().Str("artifact", a.Key()).Msg("artifact already processed, skipping")
			continue
		}
		out = append(out, a)
	}
	return out
}
