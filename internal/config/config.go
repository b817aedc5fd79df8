// Copyright Contributors to the Sykli project

// Package config resolves engine configuration from the environment
// using a typed env-var-with-default shape, one field per setting.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const (
	// EnvConcurrency overrides the scheduler's pipeline-level concurrency bound.
	EnvConcurrency = "SYKLI_CONCURRENCY"
	// EnvCacheDir overrides the content-addressed cache directory.
	EnvCacheDir = "SYKLI_CACHE_DIR"
	// EnvTarget overrides the pipeline-default target driver name.
	EnvTarget = "SYKLI_TARGET"

	// DefaultTarget is used when neither the pipeline nor the environment names one.
	DefaultTarget = "local"
	// DefaultHistorySize is the number of runs retained per pipeline.
	DefaultHistorySize = 50
)

// Config holds the engine's resolved runtime configuration.
type Config struct {
	Concurrency int
	CacheDir    string
	Target      string
	HistoryDir  string
}

// Load reads configuration from the process environment, falling back
// to hardware parallelism for concurrency and "$HOME/.sykli/..." for
// on-disk state.
func Load() Config {
	cfg := Config{
		Concurrency: runtime.GOMAXPROCS(0),
		Target:      DefaultTarget,
	}

	if v := os.Getenv(EnvConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	home, _ := os.UserHomeDir()
	cfg.CacheDir = filepath.Join(home, ".sykli", "cache")
	cfg.HistoryDir = filepath.Join(home, ".sykli", "history")

	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv(EnvTarget); v != "" {
		cfg.Target = v
	}

	return cfg
}
