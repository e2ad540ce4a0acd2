package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pindash.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	LogLevel string         `toml:"log_level"` // debug, info, warn or error
	Database DatabaseConfig `toml:"database"`
	Fetch    FetchConfig    `toml:"fetch"`
	Engine   EngineConfig   `toml:"engine"`
	Server   ServerConfig   `toml:"server"`
}

// DatabaseConfig represents configuration for the feed database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// FetchConfig controls how feeds are downloaded.
type FetchConfig struct {
	UserAgent      string `toml:"user_agent,omitempty"` // empty selects a browser-like agent
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxConcurrent  int64  `toml:"max_concurrent"`   // fetches on the network at once
	HostIntervalMS int    `toml:"host_interval_ms"` // minimum spacing of requests to one host, 0 disables
}

// Timeout returns the per-request timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// HostInterval returns the minimum spacing of requests to one host.
func (f FetchConfig) HostInterval() time.Duration {
	return time.Duration(f.HostIntervalMS) * time.Millisecond
}

// EngineConfig tunes the mutation worker loop.
type EngineConfig struct {
	QueueSize int `toml:"queue_size"`
}

// ServerConfig is the local HTTP API started by `pindash serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Fetch: FetchConfig{
			TimeoutSeconds: 30,
			MaxConcurrent:  8,
			HostIntervalMS: 1000,
		},
		Engine: EngineConfig{QueueSize: 64},
		Server: ServerConfig{Addr: "127.0.0.1:8787"},
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("database.data_dir required for sqlite database")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level: %q", c.LogLevel)
	}
	if c.Fetch.TimeoutSeconds < 0 || c.Fetch.MaxConcurrent < 0 || c.Fetch.HostIntervalMS < 0 {
		return fmt.Errorf("fetch settings must not be negative")
	}
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
