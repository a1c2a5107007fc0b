// Package config loads the remoteprof configuration: built-in defaults,
// then ~/.remoteprof/config.yaml, then environment variables. Command-line
// flags are applied on top by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/remoteprof/internal/constants"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	baseDir string
}

// NewLoader creates a loader. The base directory is resolved in this order:
//  1. REMOTEPROF_CONFIG environment variable.
//  2. User home directory (~/).
//  3. The system temp directory, for containers without a home directory.
func NewLoader() *Loader {
	if baseDir := os.Getenv(constants.ConfigDirEnv); baseDir != "" {
		return &Loader{baseDir: baseDir}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return &Loader{baseDir: homeDir}
	}
	return &Loader{baseDir: filepath.Join(os.TempDir(), "remoteprof-fallback")}
}

// NewLoaderAt creates a loader rooted at baseDir.
func NewLoaderAt(baseDir string) *Loader {
	return &Loader{baseDir: baseDir}
}

// Dir returns the remoteprof directory.
func (l *Loader) Dir() string {
	return filepath.Join(l.baseDir, constants.DefaultDir)
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.Dir(), constants.ConfigFile)
}

// DatabasePath returns the default DuckDB recording store path.
func (l *Loader) DatabasePath() string {
	return filepath.Join(l.Dir(), constants.DefaultDatabaseFile)
}

// Load returns the effective configuration. A missing file yields the
// defaults; environment overrides apply either way.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	path := l.ConfigPath()
	//nolint:gosec // G304: Path is from trusted config directory.
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if cfg.Store.Path == "" && cfg.Store.Driver == constants.StoreDuckDB {
		cfg.Store.Path = l.DatabasePath()
	}
	return cfg, nil
}

// Save writes cfg to the config file, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}

	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(l.Dir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := l.ConfigPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, l.ConfigPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
