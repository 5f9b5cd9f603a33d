// Package config loads replug configuration from environment variables.
// The Config value is built once at startup and passed explicitly to each
// subsystem; nothing reads the environment after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects which plugin source watchers run.
type Mode string

const (
	ModeFileSystem      Mode = "FileSystem"
	ModeArtifactoryFeed Mode = "ArtifactoryFeed"
	ModeBoth            Mode = "Both"
)

// DefaultExcludePrefixes filters out modules that are never plugin code:
// the runtime itself, generic system libraries, and the orchestration SDK.
var DefaultExcludePrefixes = []string{
	"libc",
	"libstdc",
	"libgo",
	"system-",
	"temporal-sdk",
	".tmp",
}

// Config holds all replug configuration.
type Config struct {
	// Temporal connection
	TemporalServer string
	TaskQueue      string

	// Hot reload
	HotReloadEnabled bool
	Mode             Mode
	WatchPaths       []string
	FileFilter       string
	Debounce         time.Duration
	QuiesceDelay     time.Duration
	ExcludePrefixes  []string

	// Artifactory feed
	FeedURL        string
	FeedUsername   string
	FeedPassword   string
	PollInterval   time.Duration
	PackageFilters []string
	DownloadPath   string
	Retention      time.Duration

	// Operational surface
	HealthAddr string
	LogLevel   string
	LogJSON    bool
}

// Load builds a Config from the process environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("TEMPORAL_SERVER", "localhost:7233")
	v.SetDefault("TASK_QUEUE", "default")
	v.SetDefault("HOT_RELOAD_ENABLED", true)
	v.SetDefault("HOT_RELOAD_MODE", string(ModeFileSystem))
	v.SetDefault("HOT_RELOAD_WATCH_PATHS", "")
	v.SetDefault("HOT_RELOAD_FILE_FILTER", "*.so")
	v.SetDefault("HOT_RELOAD_DEBOUNCE_MS", 1000)
	v.SetDefault("HOT_RELOAD_QUIESCE_MS", 1000)
	v.SetDefault("HOT_RELOAD_EXCLUDE", strings.Join(DefaultExcludePrefixes, ","))
	v.SetDefault("ARTIFACTORY_FEED_URL", "")
	v.SetDefault("ARTIFACTORY_USERNAME", "")
	v.SetDefault("ARTIFACTORY_PASSWORD", "")
	v.SetDefault("ARTIFACTORY_POLL_INTERVAL_SECONDS", 30)
	v.SetDefault("ARTIFACTORY_PACKAGE_FILTERS", "")
	v.SetDefault("ARTIFACTORY_DOWNLOAD_PATH", filepath.Join(os.TempDir(), "replug-packages"))
	v.SetDefault("ARTIFACTORY_RETENTION_HOURS", 24)
	v.SetDefault("HEALTH_ADDR", ":8233")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	cfg := &Config{
		TemporalServer:   v.GetString("TEMPORAL_SERVER"),
		TaskQueue:        v.GetString("TASK_QUEUE"),
		HotReloadEnabled: v.GetBool("HOT_RELOAD_ENABLED"),
		Mode:             Mode(v.GetString("HOT_RELOAD_MODE")),
		WatchPaths:       splitList(v.GetString("HOT_RELOAD_WATCH_PATHS")),
		FileFilter:       v.GetString("HOT_RELOAD_FILE_FILTER"),
		Debounce:         time.Duration(v.GetInt("HOT_RELOAD_DEBOUNCE_MS")) * time.Millisecond,
		QuiesceDelay:     time.Duration(v.GetInt("HOT_RELOAD_QUIESCE_MS")) * time.Millisecond,
		ExcludePrefixes:  splitList(v.GetString("HOT_RELOAD_EXCLUDE")),
		FeedURL:          v.GetString("ARTIFACTORY_FEED_URL"),
		FeedUsername:     v.GetString("ARTIFACTORY_USERNAME"),
		FeedPassword:     v.GetString("ARTIFACTORY_PASSWORD"),
		PollInterval:     time.Duration(v.GetInt("ARTIFACTORY_POLL_INTERVAL_SECONDS")) * time.Second,
		PackageFilters:   splitList(v.GetString("ARTIFACTORY_PACKAGE_FILTERS")),
		DownloadPath:     v.GetString("ARTIFACTORY_DOWNLOAD_PATH"),
		Retention:        time.Duration(v.GetInt("ARTIFACTORY_RETENTION_HOURS")) * time.Hour,
		HealthAddr:       v.GetString("HEALTH_ADDR"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		LogJSON:          v.GetBool("LOG_JSON"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeFileSystem, ModeArtifactoryFeed, ModeBoth:
	default:
		return fmt.Errorf("invalid HOT_RELOAD_MODE %q (want FileSystem, ArtifactoryFeed or Both)", c.Mode)
	}
	if c.HotReloadEnabled {
		if (c.Mode == ModeArtifactoryFeed || c.Mode == ModeBoth) && c.FeedURL == "" {
			return fmt.Errorf("HOT_RELOAD_MODE %s requires ARTIFACTORY_FEED_URL", c.Mode)
		}
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("HOT_RELOAD_DEBOUNCE_MS must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("ARTIFACTORY_POLL_INTERVAL_SECONDS must be positive")
	}
	return nil
}

// FeedWatchEnabled reports whether the feed poller should run.
func (c *Config) FeedWatchEnabled() bool {
	return c.HotReloadEnabled && (c.Mode == ModeArtifactoryFeed || c.Mode == ModeBoth)
}

// FileWatchEnabled reports whether the filesystem watcher should run.
func (c *Config) FileWatchEnabled() bool {
	return c.HotReloadEnabled && (c.Mode == ModeFileSystem || c.Mode == ModeBoth)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
