package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/replugio/replug/pkg/artifact"
	"github.com/replugio/replug/pkg/log"
	"github.com/replugio/replug/pkg/metrics"
)

const (
	// defaultSearchTake bounds how many packages one search returns.
	defaultSearchTake = 50

	// breakerThreshold and breakerCooldown implement the feed circuit
	// breaker: after this many consecutive failed polls, polling suspends
	// for the cooldown.
	breakerThreshold = 5
	breakerCooldown  = 5 * time.Minute
)

// FeedOptions configures a feed poller.
type FeedOptions struct {
	Client         *FeedClient
	PollInterval   time.Duration
	PackageFilters []string
	DownloadPath   string
	Retention      time.Duration
}

// FeedPoller periodically queries a package feed, downloads new package
// versions into a staging directory, and emits a trigger per download.
// One poll runs at a time; the timer re-arms only after the previous poll
// returns.
type FeedPoller struct {
	opts     FeedOptions
	logger   zerolog.Logger
	triggers chan Trigger

	breaker circuitBreaker

	mu        sync.Mutex
	started   bool
	stopped   bool
	done      chan struct{}
	lastKnown map[string]string
}

// NewFeedPoller creates a feed poller.
func NewFeedPoller(opts FeedOptions) *FeedPoller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &FeedPoller{
		opts:      opts,
		logger:    log.WithComponent("feedpoller"),
		triggers:  make(chan Trigger, 8),
		breaker:   circuitBreaker{threshold: breakerThreshold, cooldown: breakerCooldown},
		done:      make(chan struct{}),
		lastKnown: make(map[string]string),
	}
}

// Start begins polling. Idempotent.
func (p *FeedPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return nil
	}
	p.started = true
	go p.run(ctx)
	return nil
}

// Stop ceases polling. Idempotent.
func (p *FeedPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.done)
}

// Triggers returns the trigger channel.
func (p *FeedPoller) Triggers() <-chan Trigger {
	return p.triggers
}

func (p *FeedPoller) run(ctx context.Context) {
	for {
		p.pollOnce(ctx)
		p.cleanup()

		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// pollOnce runs one poll cycle: discover packages, compare versions,
// download what changed.
func (p *FeedPoller) pollOnce(ctx context.Context) {
	if !p.breaker.allow() {
		return
	}

	packages, err := p.discover(ctx)
	if err != nil {
		p.fail(err)
		return
	}

	for _, pkg := range packages {
		latest, err := p.latest(ctx, pkg)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Package simply not present yet; not a failure.
				continue
			}
			p.fail(err)
			return
		}

		p.mu.Lock()
		known := p.lastKnown[pkg.ID]
		p.mu.Unlock()
		if known == latest {
			continue
		}

		path, err := p.opts.Client.Download(ctx, pkg.ID, latest, p.opts.DownloadPath)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			p.fail(err)
			return
		}
		metrics.FeedDownloadsTotal.Inc()

		hash, err := artifact.HashFile(path)
		if err != nil {
			hash = ""
		}
		a := artifact.Artifact{
			ID:           pkg.ID,
			Version:      latest,
			Path:         path,
			Hash:         hash,
			DiscoveredAt: time.Now(),
		}

		p.mu.Lock()
		p.lastKnown[pkg.ID] = latest
		p.mu.Unlock()

		p.logger.Info().
			Str("package", pkg.ID).
			Str("version", latest).
			Str("path", path).
			Msg("downloaded new package version")

		select {
		case p.triggers <- Trigger{Artifacts: []artifact.Artifact{a}}:
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}

	p.breaker.success()
	metrics.FeedPollsTotal.WithLabelValues("ok").Inc()
}

// discover lists candidate packages: one search per configured filter, or a
// single default query when no filters are set.
func (p *FeedPoller) discover(ctx context.Context) ([]PackageInfo, error) {
	terms := p.opts.PackageFilters
	if len(terms) == 0 {
		terms = []string{""}
	}

	seen := make(map[string]bool)
	var out []PackageInfo
	for _, term := range terms {
		infos, err := p.opts.Client.Search(ctx, term, defaultSearchTake)
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if info.ID == "" || seen[info.ID] {
				continue
			}
			seen[info.ID] = true
			out = append(out, info)
		}
	}
	return out, nil
}

// latest resolves a package's newest version, preferring the registration
// index and falling back to the search result when the index has no entry.
func (p *FeedPoller) latest(ctx context.Context, pkg PackageInfo) (string, error) {
	v, err := p.opts.Client.LatestVersion(ctx, pkg.ID)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, ErrNotFound) && pkg.Version != "" {
		return pkg.Version, nil
	}
	return "", err
}

func (p *FeedPoller) fail(err error) {
	metrics.FeedPollsTotal.WithLabelValues("error").Inc()
	p.logger.Warn().Err(err).Msg("feed poll failed")
	p.breaker.failure(p.logger)
}

// cleanup removes staged package version directories whose last-write time
// is older than the retention window. Directories are owned per
// package-version; mid-flight downloads are never touched because a fresh
// download always resets the directory mtime.
func (p *FeedPoller) cleanup() {
	root := p.opts.DownloadPath
	pkgDirs, err := os.ReadDir(root)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-p.opts.Retention)

	for _, pkgDir := range pkgDirs {
		if !pkgDir.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(root, pkgDir.Name()))
		if err != nil {
			continue
		}
		for _, verDir := range versions {
			if !verDir.IsDir() {
				continue
			}
			full := filepath.Join(root, pkgDir.Name(), verDir.Name())
			info, err := os.Stat(full)
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(full); err != nil {
				p.logger.Warn().Err(err).Str("dir", full).Msg("cleanup failed")
				continue
			}
			metrics.StagedPackagesCleaned.Inc()
			p.logger.Debug().Str("dir", full).Msg("removed stale staged package")
		}
	}
}

// circuitBreaker suspends polling after consecutive failures. On cooldown
// expiry the count resets and polling resumes.
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	metrics.CircuitBreakerOpen.Set(0)
	return true
}

func (b *circuitBreaker) failure(logger zerolog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold && b.openUntil.IsZero() {
		b.openUntil = time.Now().Add(b.cooldown)
		metrics.CircuitBreakerOpen.Set(1)
		logger.Warn().
			Int("failures", b.failures).
			Dur("cooldown", b.cooldown).
			Msg("circuit breaker open, suspending feed polling")
	}
}

func (b *circuitBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}
