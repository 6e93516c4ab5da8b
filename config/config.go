// Package config loads the YAML configuration shared by the server and the
// client commands.
//
//	server:
//	  addr: ":8080"
//	  storage: sqlite
//	  sqlite_dsn: "file::memory:?_pragma=foreign_keys(1)"
//	  playground: true
//	  slow_query: 250ms
//	client:
//	  endpoint: "http://localhost:8080/query"
//	  page_size: 3
//	  cache_dir: ".gqlcache"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends of the server.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Defaults.
const (
	DefaultAddr     = ":8080"
	DefaultEndpoint = "http://localhost:8080/query"
	DefaultPageSize = 3
	DefaultMaxLast  = 0 // no limit
)

// Config is the root configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

// ServerConfig configures the GraphQL server.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	Storage         string `yaml:"storage"`
	SQLiteDSN       string `yaml:"sqlite_dsn,omitempty"`
	Playground      bool   `yaml:"playground"`
	MaxLast         int    `yaml:"max_last,omitempty"`
	ComplexityLimit int    `yaml:"complexity_limit,omitempty"`
	// SlowQuery is the SQL statement duration logged as slow, e.g. "250ms".
	SlowQuery time.Duration `yaml:"slow_query,omitempty"`
}

// ClientConfig configures the client session.
type ClientConfig struct {
	Endpoint string `yaml:"endpoint"`
	PageSize int    `yaml:"page_size"`
	// CacheDir keeps browse sessions between runs when set.
	CacheDir string `yaml:"cache_dir,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       DefaultAddr,
			Storage:    StorageMemory,
			Playground: true,
			MaxLast:    DefaultMaxLast,
		},
		Client: ClientConfig{
			Endpoint: DefaultEndpoint,
			PageSize: DefaultPageSize,
		},
	}
}

// Load reads the configuration at path. Keys missing from the file keep
// their defaults; a missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating its directory if needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Storage {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("config: server.storage must be %q or %q, got %q", StorageMemory, StorageSQLite, c.Server.Storage)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is empty")
	}
	if c.Server.SlowQuery < 0 {
		return fmt.Errorf("config: server.slow_query must not be negative")
	}
	if c.Server.MaxLast < 0 {
		return fmt.Errorf("config: server.max_last must not be negative")
	}
	if c.Client.PageSize <= 0 {
		return fmt.Errorf("config: client.page_size must be positive, got %d", c.Client.PageSize)
	}
	return nil
}
