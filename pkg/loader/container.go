package loader

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/replugio/replug/pkg/metrics"
)

// State is the lifecycle state of a code container.
type State int32

const (
	// StateLive means the container's handles may be registered with a worker.
	StateLive State = iota
	// StateUnloading means unload was requested; handles must not be invoked again.
	StateUnloading
	// StateCollectible means the container released its references and its
	// memory may be reclaimed at some later point.
	StateCollectible
)

var generationCounter int64

// Container is the isolation unit for one generation of loaded plugin code.
// It is single-writer during load and immutable once published; a container
// is never reused after unload is requested.
type Container struct {
	id    string
	gen   int64
	state atomic.Int32

	mu      sync.Mutex
	modules []string
}

// NewDetachedContainer returns an empty live container not produced by a
// load. Embedders use it to give built-in (baseline) registrations an
// owning container.
func NewDetachedContainer() *Container {
	return newContainer()
}

func newContainer() *Container {
	c := &Container{
		id:  uuid.New().String(),
		gen: atomic.AddInt64(&generationCounter, 1),
	}
	metrics.ContainersLive.Inc()
	return c
}

// ID returns the container's unique identifier.
func (c *Container) ID() string {
	return c.id
}

// Generation returns the container's monotonic load generation.
func (c *Container) Generation() int64 {
	return c.gen
}

// State returns the container's current lifecycle state.
func (c *Container) State() State {
	return State(c.state.Load())
}

// Modules returns the paths of the modules loaded into the container.
func (c *Container) Modules() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.modules))
	copy(out, c.modules)
	return out
}

func (c *Container) addModule(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = append(c.modules, path)
}

// markUnloading flips the container out of live state. Returns false if the
// container already left live state.
func (c *Container) markUnloading() bool {
	return c.state.CompareAndSwap(int32(StateLive), int32(StateUnloading))
}

func (c *Container) markCollectible() {
	c.mu.Lock()
	c.modules = nil
	c.mu.Unlock()
	c.state.Store(int32(StateCollectible))
	metrics.ContainersLive.Dec()
}
