// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kiln/internal/errors"

	"github.com/caarlos0/env/v11"
)

// StateDir is the per-workspace directory holding kiln's state.
const StateDir = ".kiln"

const (
	BackendBadger = "badger"
	BackendDir    = "dir"
	BackendSQLite = "sqlite"
)

// EnvPrefix prefixes the environment variables that override config fields,
// such as KILN_LOG_LEVEL or KILN_CACHE_BACKEND.
const EnvPrefix = "KILN_"

type Config struct {
	State struct {
		Path string `json:"path" env:"PATH"`
	} `json:"state" envPrefix:"STATE_"`

	Cache struct {
		Enabled       bool   `json:"enabled" env:"ENABLED"`
		Backend       string `json:"backend" env:"BACKEND"`
		Path          string `json:"path" env:"PATH"`
		MemoryEntries int    `json:"memory_entries" env:"MEMORY_ENTRIES"`
	} `json:"cache" envPrefix:"CACHE_"`

	Compression struct {
		Level   int `json:"level" env:"LEVEL"`
		MinSize int `json:"min_size" env:"MIN_SIZE"`
	} `json:"compression" envPrefix:"COMPRESSION_"`

	Hashing struct {
		MemoEntries int `json:"memo_entries" env:"MEMO_ENTRIES"`
	} `json:"hashing" envPrefix:"HASHING_"`

	Environment string `json:"environment" env:"ENV"`     // development, ci
	LogLevel    string `json:"log_level" env:"LOG_LEVEL"` // debug, info, warn, error
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.State.Path = filepath.Join(StateDir, "state")
	cfg.Cache.Enabled = true
	cfg.Cache.Backend = BackendBadger
	cfg.Cache.Path = filepath.Join(StateDir, "cache")
	cfg.Cache.MemoryEntries = 64
	cfg.Compression.Level = 2
	cfg.Compression.MinSize = 1024
	cfg.Hashing.MemoEntries = 16384
	cfg.Environment = "development"
	cfg.LogLevel = "warn"
	return &cfg
}

func getConfigPath(root string) string {
	env := os.Getenv("KILN_ENV")
	if env == "" {
		env = "development"
	}
	return filepath.Join(root, StateDir, fmt.Sprintf("config.%s.json", env))
}

// Load decodes a JSON config file over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes c as indented JSON to path.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Path returns where Resolve looks for the config file under root.
func Path(root string) string {
	return getConfigPath(root)
}

// Resolve loads the environment's config file under root, falling back to
// defaults when it does not exist, then applies KILN_* environment
// overrides. Relative paths are anchored at root.
func Resolve(root string) (*Config, error) {
	cfg, err := Load(getConfigPath(root))
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(root, cfg.State.Path)
	}
	if !filepath.IsAbs(cfg.Cache.Path) {
		cfg.Cache.Path = filepath.Join(root, cfg.Cache.Path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendBadger, BackendDir, BackendSQLite:
	default:
		return errors.ValidationError(fmt.Sprintf("unknown cache backend %q", c.Cache.Backend), nil)
	}
	if c.Cache.MemoryEntries < 0 || c.Hashing.MemoEntries < 0 {
		return errors.ValidationError("cache sizes cannot be negative", map[string]int{
			"cache.memory_entries": c.Cache.MemoryEntries,
			"hashing.memo_entries": c.Hashing.MemoEntries,
		})
	}
	if c.Compression.Level < 1 || c.Compression.Level > 4 {
		return errors.ValidationError(fmt.Sprintf("compression level %d out of range 1-4", c.Compression.Level), nil)
	}
	return nil
}

// FindRoot searches for the workspace root by looking for the state directory.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, StateDir)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NotFound("workspace root not found")
}
