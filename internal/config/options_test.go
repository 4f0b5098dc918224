package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.CachePages != 1024 || !opts.Mmap || opts.WALGroupWindowMS != 1 || opts.StatementCacheSize != 256 {
		t.Errorf("DefaultOptions = %+v, unexpected defaults", opts)
	}
}

func TestGroupWindowConvertsMillisecondsToDuration(t *testing.T) {
	opts := Options{WALGroupWindowMS: 5}
	if got := opts.GroupWindow(); got != 5*time.Millisecond {
		t.Errorf("GroupWindow = %v, want 5ms", got)
	}
}

func TestLoadOverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "cache_pages: 2048\nmmap: false\n"
	if err := writeFile(path, yaml); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.CachePages != 2048 || opts.Mmap {
		t.Errorf("opts = %+v, want CachePages=2048 Mmap=false", opts)
	}
	if opts.StatementCacheSize != 256 {
		t.Errorf("StatementCacheSize = %d, want the default 256 to survive a partial override", opts.StatementCacheSize)
	}
}

func TestLoadMissingFileIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load on a missing file, want an error")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := writeFile(path, "cache_pages: [this is not a number"); err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load on malformed YAML, want an error")
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0644)
}
