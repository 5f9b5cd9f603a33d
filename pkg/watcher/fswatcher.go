package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/replugio/replug/pkg/log"
)

// FSOptions configures a filesystem watcher.
type FSOptions struct {
	Paths           []string
	FileFilter      string
	ExcludePrefixes []string
	Debounce        time.Duration
}

// FSWatcher watches directories for plugin module changes and coalesces
// bursts into a single rescan trigger. Builds and package installers write
// many files in rapid succession; the debounce window is measured from the
// first eligible event and later events never extend it.
type FSWatcher struct {
	opts     FSOptions
	logger   zerolog.Logger
	triggers chan Trigger

	mu      sync.Mutex
	started bool
	stopped bool
	watcher *fsnotify.Watcher
	done    chan struct{}

	pendingMu sync.Mutex
	pending   map[string]bool
	timer     *time.Timer
}

// NewFSWatcher creates a filesystem watcher.
func NewFSWatcher(opts FSOptions) *FSWatcher {
	if opts.FileFilter == "" {
		opts.FileFilter = "*.so"
	}
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	return &FSWatcher{
		opts:     opts,
		logger:   log.WithComponent("fswatcher"),
		triggers: make(chan Trigger, 8),
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start begins emitting triggers. Idempotent.
func (w *FSWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range w.opts.Paths {
		if err := fsw.Add(p); err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("cannot watch path, skipping")
			continue
		}
		w.logger.Info().Str("path", p).Msg("watching")
	}

	w.watcher = fsw
	w.started = true
	go w.run(ctx)
	return nil
}

// Stop ceases emitting triggers. Idempotent; an armed debounce timer may
// still deliver one in-flight trigger.
func (w *FSWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}

// Triggers returns the trigger channel.
func (w *FSWatcher) Triggers() <-chan Trigger {
	return w.triggers
}

func (w *FSWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *FSWatcher) handleEvent(event fsnotify.Event) {
	// Chmod covers attribute-only changes such as a plain touch.
	const ops = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	if event.Op&ops == 0 {
		return
	}

	// New directories inside a watched root join the watch set so packages
	// extracted into fresh subdirectories are still seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err == nil {
				w.logger.Debug().Str("path", event.Name).Msg("watching new directory")
			}
			return
		}
	}

	if !w.eligible(event.Name) {
		return
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending[event.Name] = true
	if w.timer == nil {
		// Arm once per burst; the deadline is fixed at the first event.
		w.timer = time.AfterFunc(w.opts.Debounce, w.fire)
	}
}

func (w *FSWatcher) fire() {
	w.pendingMu.Lock()
	changed := len(w.pending)
	w.pending = make(map[string]bool)
	w.timer = nil
	w.pendingMu.Unlock()

	w.logger.Info().Int("changed_files", changed).Msg("filesystem change detected, requesting rescan")

	select {
	case w.triggers <- Trigger{}:
	case <-w.done:
	}
}

func (w *FSWatcher) eligible(path string) bool {
	name := filepath.Base(path)
	ok, err := filepath.Match(w.opts.FileFilter, name)
	if err != nil || !ok {
		return false
	}
	lower := strings.ToLower(name)
	for _, prefix := range w.opts.ExcludePrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return false
		}
	}
	return true
}
