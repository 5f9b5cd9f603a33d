package artifact

import (
	"sync"
	"time"

	"github.com/replugio/replug/pkg/registration"
)

// Entry records what the registry knows about one artifact identity.
type Entry struct {
	Artifact    Artifact
	Container   registration.ContainerRef
	Set         registration.Set
	ProcessedAt time.Time
}

// Registry is the process-wide mapping from artifact identity to the
// container and registration set it contributed. It suppresses duplicate
// reloads and coordinates unload of superseded containers. The registry
// holds strong references; Remove deletes entries explicitly.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Record stores the container and set produced for an artifact and returns
// the container it displaced, if any.
func (r *Registry) Record(a Artifact, c registration.ContainerRef, set registration.Set) registration.ContainerRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced registration.ContainerRef
	if prev, ok := r.entries[a.Key()]; ok && prev.Container != nil && prev.Container != c {
		displaced = prev.Container
	}
	r.entries[a.Key()] = Entry{
		Artifact:    a,
		Container:   c,
		Set:         set,
		ProcessedAt: time.Now(),
	}
	return displaced
}

// Lookup returns the entry for an artifact identity.
func (r *Registry) Lookup(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	return e, ok
}

// Seen reports whether an artifact with this identity and hash was already
// processed. An empty hash matches identity only.
func (r *Registry) Seen(a Artifact) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[a.Key()]
	if !ok {
		return false
	}
	return a.Hash == "" || e.Artifact.Hash == a.Hash
}

// Remove deletes an entry, releasing the registry's reference to its
// container.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Len returns the number of recorded artifacts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
