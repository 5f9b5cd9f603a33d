package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWatcher(FSOptions{
		Paths:    []string{dir},
		Debounce: 200 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// A burst of touches within the window must coalesce into one trigger.
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "plugin.so")
		require.NoError(t, os.WriteFile(name, []byte{byte(i)}, 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case tr := <-w.Triggers():
		assert.Empty(t, tr.Artifacts, "filesystem trigger requests a rescan")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a trigger")
	}

	select {
	case <-w.Triggers():
		t.Fatal("burst produced more than one trigger")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestFSWatcherIgnoresFilteredFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWatcher(FSOptions{
		Paths:           []string{dir},
		Debounce:        100 * time.Millisecond,
		ExcludePrefixes: []string{"libc"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libc-shim.so"), []byte("x"), 0644))

	select {
	case <-w.Triggers():
		t.Fatal("filtered files must not trigger")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestFSWatcherTouchRetriggers(t *testing.T) {
	// A plain touch of an unchanged file must still produce a trigger; test
	// scripts rely on touch-driven reloads.
	dir := t.TempDir()
	name := filepath.Join(dir, "plugin.so")
	require.NoError(t, os.WriteFile(name, []byte("same bytes"), 0644))

	w := NewFSWatcher(FSOptions{Paths: []string{dir}, Debounce: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	now := time.Now()
	require.NoError(t, os.Chtimes(name, now, now))
	require.NoError(t, os.WriteFile(name, []byte("same bytes"), 0644))

	select {
	case <-w.Triggers():
	case <-time.After(2 * time.Second):
		t.Fatal("touch did not trigger")
	}
}

func TestFSWatcherStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewFSWatcher(FSOptions{Paths: []string{dir}})
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx))
	w.Stop()
	w.Stop()

	// Starting after stop stays stopped.
	require.NoError(t, w.Start(ctx))
}
