package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replugio/replug/pkg/registration"
)

type fakeContainer struct {
	id  string
	gen int64
}

func (c *fakeContainer) ID() string        { return c.id }
func (c *fakeContainer) Generation() int64 { return c.gen }

func TestRegistryRecordAndLookup(t *testing.T) {
	r := NewRegistry()
	a := Artifact{ID: "acme.tasks", Version: "1.0.1", DiscoveredAt: time.Now()}
	c := &fakeContainer{id: "c1", gen: 1}

	displaced := r.Record(a, c, registration.NewSet())
	assert.Nil(t, displaced)

	e, ok := r.Lookup("acme.tasks@1.0.1")
	require.True(t, ok)
	assert.Equal(t, c, e.Container)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRecordSupersedes(t *testing.T) {
	r := NewRegistry()
	a := Artifact{ID: "acme.tasks", Version: "1.0.1"}
	c1 := &fakeContainer{id: "c1", gen: 1}
	c2 := &fakeContainer{id: "c2", gen: 2}

	r.Record(a, c1, registration.NewSet())
	displaced := r.Record(a, c2, registration.NewSet())

	require.NotNil(t, displaced)
	assert.Equal(t, "c1", displaced.ID())
}

func TestRegistrySeen(t *testing.T) {
	r := NewRegistry()
	a := Artifact{ID: "acme.tasks", Version: "1.0.1", Hash: "abc"}

	assert.False(t, r.Seen(a))
	r.Record(a, &fakeContainer{id: "c1"}, registration.NewSet())
	assert.True(t, r.Seen(a))

	// Same identity, different content: not a duplicate.
	changed := a
	changed.Hash = "def"
	assert.False(t, r.Seen(changed))

	r.Remove(a.Key())
	assert.False(t, r.Seen(a))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.so")
	require.NoError(t, os.WriteFile(path, []byte("plugin bytes"), 0644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	_, err = HashFile(filepath.Join(dir, "missing.so"))
	assert.Error(t, err)
}
