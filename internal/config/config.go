// Package config loads and saves user-configurable settings from a
// TOML file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/maxkrueger/blink/internal/debug"
)

// Config holds all user-configurable settings.
type Config struct {
	Scanner     ScannerConfig     `toml:"scanner"`
	Watcher     WatcherConfig     `toml:"watcher"`
	Detection   DetectionConfig   `toml:"detection"`
	Performance PerformanceConfig `toml:"performance"`
	Store       StoreConfig       `toml:"store"`
}

// ScannerConfig holds entry filters applied while scanning.
// IgnorePatterns are globs matched against directory and file names
// alike; ExcludedDirectories match directory names only.
type ScannerConfig struct {
	ExcludedDirectories []string `toml:"excluded_directories"`
	IgnorePatterns      []string `toml:"ignore_patterns"`
	IgnoreHidden        bool     `toml:"ignore_hidden"`
}

// WatcherConfig holds filesystem watch settings.
type WatcherConfig struct {
	DebounceMs int  `toml:"debounce_ms"`
	Recursive  bool `toml:"recursive"`
}

// DetectionConfig holds eye-detection dispatch settings.
type DetectionConfig struct {
	DetectOnUpload bool `toml:"detect_on_upload"`
}

// PerformanceConfig holds worker and thumbnail tuning.
type PerformanceConfig struct {
	WorkerThreads    int `toml:"worker_threads"`
	MaxThumbnailSize int `toml:"max_thumbnail_size"`
	JpegQuality      int `toml:"jpeg_quality"`
}

// StoreConfig holds the settings database location.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Scanner: ScannerConfig{
			IgnoreHidden: true,
		},
		Watcher: WatcherConfig{
			DebounceMs: 200,
			Recursive:  true,
		},
		Detection: DetectionConfig{
			DetectOnUpload: true,
		},
		Performance: PerformanceConfig{
			WorkerThreads:    8,
			MaxThumbnailSize: 512,
			JpegQuality:      85,
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "blink", "config.toml")
}

// Load reads path, layering it over the defaults. A missing file is
// not an error: the defaults are written there for the next run.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		debug.Log(debug.CONFIG, "Load: %q missing, writing defaults", path)
		if err := Save(path, cfg); err != nil {
			debug.Log(debug.CONFIG, "Load: could not write defaults: %v", err)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
