package loader

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replugio/replug/pkg/artifact"
	"github.com/replugio/replug/pkg/registration"
)

func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestEligible(t *testing.T) {
	l := New(Options{
		FileFilter:      "*.so",
		ExcludePrefixes: []string{"libc", "temporal-sdk"},
	})

	assert.True(t, l.eligible("/plugins/email.so"))
	assert.False(t, l.eligible("/plugins/email.dll"))
	assert.False(t, l.eligible("/plugins/libc-2.31.so"))
	assert.False(t, l.eligible("/plugins/Temporal-SDK-core.so"))
}

func TestExtractArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "acme.tasks.1.0.2.zip")
	writeArchive(t, archivePath, map[string]string{
		"lib/go/tasks.so":   "module bytes",
		"lib/go/helpers.so": "more bytes",
		"acme.tasks.nuspec": "<metadata/>",
	})

	a := artifact.Artifact{ID: "acme.tasks", Version: "1.0.2", Path: archivePath, DiscoveredAt: time.Now()}
	extractDir, err := extractArchive(a, dir)
	require.NoError(t, err)

	modules, err := archiveModules(extractDir)
	require.NoError(t, err)
	assert.Len(t, modules, 2)
	for _, m := range modules {
		_, err := os.Stat(m)
		assert.NoError(t, err)
	}
}

func TestExtractArchiveUniqueDirs(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "acme.tasks.1.0.2.zip")
	writeArchive(t, archivePath, map[string]string{"lib/go/tasks.so": "x"})

	a := artifact.Artifact{ID: "acme.tasks", Version: "1.0.2", Path: archivePath}
	d1, err := extractArchive(a, dir)
	require.NoError(t, err)
	d2, err := extractArchive(a, dir)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2, "repeated extraction of the same version must not collide")
}

func TestExtractArchiveRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "evil.zip")
	writeArchive(t, archivePath, map[string]string{"../escape.so": "x"})

	a := artifact.Artifact{ID: "evil", Version: "1.0.0", Path: archivePath}
	_, err := extractArchive(a, dir)
	require.Error(t, err)
}

func TestExtractArchiveMissingLibSubtree(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "empty.zip")
	writeArchive(t, archivePath, map[string]string{"readme.txt": "no modules here"})

	a := artifact.Artifact{ID: "empty", Version: "1.0.0", Path: archivePath}
	extractDir, err := extractArchive(a, dir)
	require.NoError(t, err)

	_, err = archiveModules(extractDir)
	require.Error(t, err)
}

func TestCollectDeduplicatesAndFilters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "email.so"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libc.so"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("c"), 0644))

	l := New(Options{
		ScanRoots:       []string{dir},
		FileFilter:      "*.so",
		ExcludePrefixes: []string{"libc"},
	})

	// The same file both as an explicit artifact and under a scan root.
	arts := []artifact.Artifact{{ID: "email", Version: "1", Path: filepath.Join(dir, "email.so")}}
	candidates, err := l.collect(arts)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "email.so", filepath.Base(candidates[0]))
}

func TestLoadSkipsBadModules(t *testing.T) {
	// Files that match the filter but are not real plugins must be skipped
	// with a warning, producing an empty set rather than an error.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.so"), []byte("not a plugin"), 0644))

	l := New(Options{ScanRoots: []string{dir}, FileFilter: "*.so"})
	c, set, err := l.Load(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, set.Empty())
	assert.Empty(t, c.Modules())
	assert.Equal(t, StateLive, c.State())
}

func TestLoadBadArchiveContinues(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.zip")
	require.NoError(t, os.WriteFile(corrupt, []byte("this is not a zip"), 0644))

	l := New(Options{FileFilter: "*.so", ExtractRoot: dir})
	c, set, err := l.Load(context.Background(), []artifact.Artifact{
		{ID: "corrupt", Version: "0.0.1", Path: corrupt},
	})
	require.NoError(t, err, "a bad artifact is skipped, not fatal")
	require.NotNil(t, c)
	assert.True(t, set.Empty())
}

func TestUnloadLifecycle(t *testing.T) {
	l := New(Options{})
	c := newContainer()
	require.Equal(t, StateLive, c.State())

	l.Unload(c)
	assert.Equal(t, StateCollectible, c.State())
	assert.Empty(t, c.Modules())

	// Unload is idempotent.
	l.Unload(c)
	assert.Equal(t, StateCollectible, c.State())
}

func TestContainerGenerationsIncrease(t *testing.T) {
	c1 := newContainer()
	c2 := newContainer()
	assert.Greater(t, c2.Generation(), c1.Generation())
	assert.NotEqual(t, c1.ID(), c2.ID())
}

func TestSetBuilderSkipsInvalidHandles(t *testing.T) {
	set := registration.NewSet()
	b := &setBuilder{set: set, container: newContainer(), origin: "m.so"}

	b.RegisterTask("good", func(ctx context.Context, s string) error { return nil })
	b.RegisterTask("bad", "not a function")
	b.RegisterWorkflow("NotAFlow", func(s string) error { return nil })

	assert.Len(t, set.Tasks, 1)
	assert.Len(t, set.Workflows, 0)
}
