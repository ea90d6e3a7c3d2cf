package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written to disk: %v", err)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[watcher]
debounce_ms = 500

[performance]
worker_threads = 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("debounce = %d, want 500", cfg.Watcher.DebounceMs)
	}
	if cfg.Performance.WorkerThreads != 2 {
		t.Errorf("workers = %d, want 2", cfg.Performance.WorkerThreads)
	}
	// Untouched sections keep their defaults.
	if cfg.Performance.JpegQuality != 85 {
		t.Errorf("jpeg quality = %d, want default 85", cfg.Performance.JpegQuality)
	}
	if !cfg.Detection.DetectOnUpload {
		t.Error("detect_on_upload default lost")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not = [valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed toml should surface an error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "config.toml")

	want := Default()
	want.Scanner.IgnorePatterns = []string{"*.tmp"}
	want.Watcher.DebounceMs = 50

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Watcher.DebounceMs != 50 {
		t.Errorf("debounce = %d, want 50", got.Watcher.DebounceMs)
	}
	if len(got.Scanner.IgnorePatterns) != 1 || got.Scanner.IgnorePatterns[0] != "*.tmp" {
		t.Errorf("ignore patterns = %v", got.Scanner.IgnorePatterns)
	}
}
