// Package config loads SharpCoreDB's tunables: a small YAML-backed options
// struct with sane zero-value defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options configures one Database at Open.
type Options struct {
	// CachePages is the page cache's capacity in pages.
	CachePages uint32 `yaml:"cache_pages"`
	// Mmap enables the memory-mapped read path for eligible file sizes
	// (files in [10MB, 50MB]).
	Mmap bool `yaml:"mmap"`
	// WALGroupWindowMS is the group-commit coalescing window in
	// milliseconds.
	WALGroupWindowMS uint32 `yaml:"wal_group_window_ms"`
	// Encrypt is accepted for config-surface compatibility, but
	// SharpCoreDB does not implement page encryption, so true is rejected
	// at Open (see Open in the root package's database.go).
	Encrypt bool `yaml:"encrypt"`
	// CheckpointCron is a robfig/cron/v3 schedule (with seconds) for the
	// background checkpoint job; empty disables scheduled checkpoints.
	CheckpointCron string `yaml:"checkpoint_cron"`
	// StatementCacheSize bounds the compiled-query cache.
	StatementCacheSize int `yaml:"statement_cache_size"`
}

// DefaultOptions returns the engine's zero-config defaults.
func DefaultOptions() Options {
	return Options{
		CachePages:         1024,
		Mmap:               true,
		WALGroupWindowMS:   1,
		CheckpointCron:     "0 */5 * * * *",
		StatementCacheSize: 256,
	}
}

// GroupWindow returns WALGroupWindowMS as a time.Duration.
func (o Options) GroupWindow() time.Duration {
	return time.Duration(o.WALGroupWindowMS) * time.Millisecond
}

// Load reads YAML-formatted options from path, starting from
// DefaultOptions so an omitted field keeps its default.
func Load(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}
