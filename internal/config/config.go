// Package config provides configuration loading and validation for the sync service.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/statesync/internal/telemetry"
)

const (
	// LocalCacheFile stores the cache as files under a directory
	LocalCacheFile = "file"

	// LocalCacheSQLite stores the cache in an embedded SQLite database
	LocalCacheSQLite = "sqlite"

	// LocalCacheMemory keeps the cache in process memory
	LocalCacheMemory = "memory"
)

// DefaultPersistDebounceTime is used when persistDebounceTime is not set
const DefaultPersistDebounceTime = 5 * time.Second

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML, JSON or HuJSON file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// LocalStorageKey is the key of the cached envelope in the local backend
	LocalStorageKey string `yaml:"localStorageKey"`

	// PersistDebounceTime is the quiet period before a change is committed ("5s", "250ms")
	PersistDebounceTime string `yaml:"persistDebounceTime,omitempty"`

	Slices     []SliceConfig     `yaml:"slices"`
	LocalCache LocalCacheConfig  `yaml:"localCache"`
	Remote     RemoteConfig      `yaml:"remote"`
	Telemetry  *telemetry.Config `yaml:"telemetry,omitempty"`
}

// SliceConfig registers one top-level slice of the in-memory state
type SliceConfig struct {
	// Key names the slice in the persisted envelope
	Key string `yaml:"key"`

	// Path names the slice in the in-memory state. Defaults to Key.
	Path string `yaml:"path,omitempty"`

	// Persist sends changes of this slice to the cache and the remote store
	Persist bool `yaml:"persist"`

	// Rehydrate restores this slice on startup
	Rehydrate bool `yaml:"rehydrate"`

	// Default is the value the slice starts from and is reset to
	Default map[string]any `yaml:"default,omitempty"`
}

// GetPath returns the in-memory path of the slice
func (s *SliceConfig) GetPath() string {
	if s.Path == "" {
		return s.Key
	}
	return s.Path
}

// LocalCacheConfig selects the local cache backend
type LocalCacheConfig struct {
	// Driver is one of file, sqlite or memory. Defaults to file.
	Driver string `yaml:"driver,omitempty"`

	// Path is the cache directory (file) or database file (sqlite)
	Path string `yaml:"path,omitempty"`
}

// GetDriver returns the cache driver, using file if not specified
func (l *LocalCacheConfig) GetDriver() string {
	if l.Driver == "" {
		return LocalCacheFile
	}
	return l.Driver
}

// LoadConfig loads, parses and validates a configuration file. Files ending in
// .json, .jsonc or .hujson may carry comments and trailing commas.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data, filepath.Ext(loaderCfg.path))
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Parse decodes data without validating it. ext selects the HuJSON
// standardisation step.
func Parse(data []byte, ext string) (*Config, error) {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
		data = std
	}

	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// GetPersistDebounceTime returns the parsed debounce, or the default when unset
func (c *Config) GetPersistDebounceTime() (time.Duration, error) {
	if c.PersistDebounceTime == "" {
		return DefaultPersistDebounceTime, nil
	}
	d, err := time.ParseDuration(c.PersistDebounceTime)
	if err != nil {
		return 0, fmt.Errorf("invalid persistDebounceTime %q: %w", c.PersistDebounceTime, err)
	}
	return d, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if strings.TrimSpace(c.LocalStorageKey) == "" {
		return fmt.Errorf("localStorageKey is required")
	}

	d, err := c.GetPersistDebounceTime()
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("persistDebounceTime must not be negative, got %s", d)
	}

	if err := validateSlices(c.Slices); err != nil {
		return err
	}

	if err := c.LocalCache.validate(); err != nil {
		return fmt.Errorf("localCache: %w", err)
	}

	if err := c.Remote.validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func validateSlices(slices []SliceConfig) error {
	if len(slices) == 0 {
		return fmt.Errorf("at least one slice must be configured")
	}

	keys := make(map[string]bool)
	paths := make(map[string]bool)
	persisted := 0
	for i, s := range slices {
		if s.Key == "" {
			return fmt.Errorf("slices[%d]: key is required", i)
		}
		if keys[s.Key] {
			return fmt.Errorf("slices[%d]: duplicate slice key '%s'", i, s.Key)
		}
		keys[s.Key] = true

		if paths[s.GetPath()] {
			return fmt.Errorf("slices[%d] (%s): duplicate path '%s'", i, s.Key, s.GetPath())
		}
		paths[s.GetPath()] = true

		if s.Persist {
			persisted++
		}
	}

	if persisted == 0 {
		return fmt.Errorf("at least one slice must have persist enabled")
	}
	return nil
}

func (l *LocalCacheConfig) validate() error {
	switch l.GetDriver() {
	case LocalCacheFile, LocalCacheSQLite:
		if l.Path == "" {
			return fmt.Errorf("path is required for driver '%s'", l.GetDriver())
		}
	case LocalCacheMemory:
	default:
		return fmt.Errorf("unsupported driver '%s' (supported: %s, %s, %s)",
			l.Driver, LocalCacheFile, LocalCacheSQLite, LocalCacheMemory)
	}
	return nil
}
