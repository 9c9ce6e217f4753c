package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the hub's runtime configuration.
type Config struct {
	Addr     string `koanf:"addr"`      // Listen address (e.g. ":9810")
	DataDir  string `koanf:"data_dir"`  // Data directory for snapshots, board, socket
	WatchDir string `koanf:"watch_dir"` // Project directory observed by the FS notifier (empty: DataDir)
	AntiEcho bool   `koanf:"anti_echo"` // Enable the diversity policy hooks
	LogLevel string `koanf:"log_level"` // debug, info, warn, error
}

// Load builds the configuration by layering defaults, an optional YAML
// file and COLLABHUB_-prefixed environment variables (lowest to highest
// precedence).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"addr":      ":9810",
		"data_dir":  defaultDataDir(),
		"watch_dir": "",
		"anti_echo": false,
		"log_level": "info",
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "COLLABHUB_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "COLLABHUB_"))
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks the configuration values and ensures the data
// directory and its required subdirectories exist.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	for _, dir := range []string{"", "tasks", "messages", "memory", "decisions"} {
		if err := os.MkdirAll(filepath.Join(c.DataDir, dir), 0o750); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	if c.WatchDir == "" {
		c.WatchDir = c.DataDir
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "collabhub")
	}
	return filepath.Join(home, ".config", "collabhub")
}

// IdentitiesPath returns the path to the identity registry snapshot.
func (c *Config) IdentitiesPath() string {
	return filepath.Join(c.DataDir, "identities.json")
}

// ClaimsPath returns the path to the task claims snapshot.
func (c *Config) ClaimsPath() string {
	return filepath.Join(c.DataDir, "task-claims.json")
}

// LocksPath returns the path to the shutdown lock snapshot.
func (c *Config) LocksPath() string {
	return filepath.Join(c.DataDir, "task-locks.json")
}

// BoardPath returns the path to the append-only discussion board.
func (c *Config) BoardPath() string {
	return filepath.Join(c.DataDir, "DISCUSSION_BOARD.md")
}
