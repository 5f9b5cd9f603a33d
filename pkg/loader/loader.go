package loader

import (
	"context"
	"os"
	"path/filepath"
	"plugin"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/replugio/replug/pkg/artifact"
	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/metrics"
	"github.com/replugio/replug/pkg/registration"
)

// EntrySymbol is the well-known symbol every plugin module exports.
const EntrySymbol = "RegisterPlugin"

type registerFn func(registration.Registrar)

// Options configures a Loader.
type Options struct {
	// ScanRoots are directories scanned recursively for modules on every
	// load, in addition to the artifacts passed explicitly.
	ScanRoots []string
	// FileFilter is the glob modules must match (e.g. "*.so").
	FileFilter string
	// ExcludePrefixes filters out modules by filename prefix.
	ExcludePrefixes []string
	// ExtractRoot is where archives are unpacked; defaults to the system
	// temp directory.
	ExtractRoot string
}

// Loader materializes artifacts into code containers and extracts their
// registration sets.
type Loader struct {
	opts   Options
	logger zerolog.Logger

	// Go refuses to map the same plugin twice, so already-opened modules are
	// cached by content hash and only their entry point is re-invoked.
	cacheMu sync.Mutex
	cache   map[string]registerFn
}

// New creates a Loader.
func New(opts Options) *Loader {
	if opts.FileFilter == "" {
		opts.FileFilter = "*.so"
	}
	if opts.ExtractRoot == "" {
		opts.ExtractRoot = os.TempDir()
	}
	return &Loader{
		opts:   opts,
		logger: log.WithComponent("loader"),
		cache:  make(map[string]registerFn),
	}
}

// Load produces a fresh container holding the modules of the given artifacts
// plus everything under the scan roots, and the registration set they
// contribute. Per-module failures skip the module; the load itself fails
// only on context cancellation.
func (l *Loader) Load(ctx context.Context, arts []artifact.Artifact) (*Container, registration.Set, error) {
	candidates, err := l.collect(arts)
	if err != nil {
		return nil, registration.Set{}, err
	}

	c := newContainer()
	set := registration.NewSet()

	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, registration.Set{}, err
		}
		if l.loadModule(path, c, set) {
			c.addModule(path)
		}
	}

	l.logger.Info().
		Int64("generation", c.Generation()).
		Int("modules", len(c.Modules())).
		Int("tasks", len(set.Tasks)).
		Int("workflows", len(set.Workflows)).
		Msg("load complete")
	return c, set, nil
}

// Unload releases a container best-effort. The caller must have ensured no
// worker references the container; memory may persist until a later GC.
func (l *Loader) Unload(c *Container) {
	if c == nil || !c.markUnloading() {
		return
	}
	c.markCollectible()
	runtime.GC()
	l.logger.Debug().Int64("generation", c.Generation()).Msg("container unloaded")
}

// collect gathers eligible module paths from artifacts and scan roots,
// deduplicated by absolute path.
func (l *Loader) collect(arts []artifact.Artifact) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	for _, a := range arts {
		info, err := os.Stat(a.Path)
		if err != nil {
			l.logger.Warn().Err(err).Str("artifact", a.Key()).Msg("artifact path unreadable, skipping")
			continue
		}
		switch {
		case info.IsDir():
			for _, m := range l.scanDir(a.Path) {
				add(m)
			}
		case strings.EqualFold(filepath.Ext(a.Path), ".zip") || strings.EqualFold(filepath.Ext(a.Path), ".nupkg"):
			dir, err := extractArchive(a, l.opts.ExtractRoot)
			if err != nil {
				l.logger.Warn().Err(err).Str("artifact", a.Key()).Msg("bad artifact, skipping")
				metrics.ModulesSkipped.WithLabelValues("bad_archive").Inc()
				continue
			}
			modules, err := archiveModules(dir)
			if err != nil {
				l.logger.Warn().Err(err).Str("artifact", a.Key()).Msg("archive has no library subtree, skipping")
				metrics.ModulesSkipped.WithLabelValues("no_lib_subtree").Inc()
				continue
			}
			for _, m := range modules {
				if l.eligible(m) {
					add(m)
				}
			}
			metrics.ArtifactsLoaded.Inc()
		default:
			if l.eligible(a.Path) {
				add(a.Path)
			}
		}
	}

	for _, root := range l.opts.ScanRoots {
		for _, m := range l.scanDir(root) {
			add(m)
		}
	}
	return out, nil
}

func (l *Loader) scanDir(root string) []string {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable subtree: skip it, keep walking.
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if l.eligible(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn().Err(err).Str("root", root).Msg("scan failed")
	}
	return out
}

// eligible applies the glob filter and the platform-library deny list.
func (l *Loader) eligible(path string) bool {
	name := filepath.Base(path)
	ok, err := filepath.Match(l.opts.FileFilter, name)
	if err != nil || !ok {
		return false
	}
	lower := strings.ToLower(name)
	for _, prefix := range l.opts.ExcludePrefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return false
		}
	}
	return true
}

// loadModule opens one module and runs its registration entry point against
// the container's set. Returns true when the module contributed.
func (l *Loader) loadModule(path string, c *Container, set registration.Set) bool {
	entry, err := l.entryPoint(path)
	if err != nil {
		l.logger.Warn().Err(err).Str("module", path).Msg("module load failed, skipping")
		metrics.ModulesSkipped.WithLabelValues("load_failed").Inc()
		return false
	}

	b := &setBuilder{set: set, container: c, origin: path, logger: l.logger}
	entry(b)
	return true
}

// entryPoint returns the module's registration function, reusing an
// already-mapped plugin when the file content is unchanged.
func (l *Loader) entryPoint(path string) (registerFn, error) {
	hash, err := artifact.HashFile(path)
	if err != nil {
		return nil, err
	}

	l.cacheMu.Lock()
	cached, ok := l.cache[hash]
	l.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return nil, err
	}
	entry, ok := sym.(func(registration.Registrar))
	if !ok {
		return nil, &entrySignatureError{path: path}
	}

	l.cacheMu.Lock()
	l.cache[hash] = entry
	l.cacheMu.Unlock()
	return entry, nil
}

type entrySignatureError struct {
	path string
}

func (e *entrySignatureError) Error() string {
	return "module " + e.path + ": " + EntrySymbol + " has wrong signature (want func(registration.Registrar))"
}

// setBuilder is the Registrar handed to plugin entry points. Handle-level
// failures skip the handle and never abort the module scan.
type setBuilder struct {
	set       registration.Set
	container *Container
	origin    string
	logger    zerolog.Logger
}

func (b *setBuilder) RegisterTask(name string, fn interface{}) {
	h, err := registration.DescribeTask(name, fn, b.origin, b.container)
	if err != nil {
		b.logger.Warn().Err(err).Str("module", b.origin).Msg("task skipped")
		metrics.ModulesSkipped.WithLabelValues("task_invalid").Inc()
		return
	}
	b.set.AddTask(h)
}

func (b *setBuilder) RegisterWorkflow(name string, fn interface{}) {
	h, err := registration.DescribeWorkflow(name, fn, b.origin, b.container)
	if err != nil {
		b.logger.Warn().Err(err).Str("module", b.origin).Msg("workflow skipped")
		metrics.ModulesSkipped.WithLabelValues("workflow_invalid").Inc()
		return
	}
	b.set.AddWorkflow(h)
}
