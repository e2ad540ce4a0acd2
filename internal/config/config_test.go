package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/pindash",
		LogDir:   "/home/user/.local/share/pindash/log",
		LogLevel: "debug",
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/pindash/db"},
		Fetch: FetchConfig{
			UserAgent:      "pindash-test",
			TimeoutSeconds: 10,
			MaxConcurrent:  3,
			HostIntervalMS: 250,
		},
		Engine: EngineConfig{QueueSize: 16},
		Server: ServerConfig{Addr: ":9000"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if diff := cmp.Diff(original, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_Read_Partial(t *testing.T) {
	src := `
base_dir = "/data"

[database]
type = "memory"

[fetch]
max_concurrent = 2
`
	m := &Manager{}
	got, err := m.Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Database.Type != "memory" {
		t.Errorf("Database.Type = %q, want memory", got.Database.Type)
	}
	if got.Fetch.MaxConcurrent != 2 {
		t.Errorf("Fetch.MaxConcurrent = %d, want 2", got.Fetch.MaxConcurrent)
	}
	if got.Fetch.TimeoutSeconds != 0 {
		t.Errorf("Fetch.TimeoutSeconds = %d, want 0 when unset", got.Fetch.TimeoutSeconds)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/pindash")

	if cfg.BaseDir != "/data/pindash" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/pindash")
	}
	if cfg.LogDir != "/data/pindash/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/pindash/log")
	}
	if cfg.Database.DataDir != "/data/pindash/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/pindash/db")
	}
	if cfg.Fetch.Timeout() != 30*time.Second {
		t.Errorf("Fetch.Timeout() = %v, want 30s", cfg.Fetch.Timeout())
	}
	if cfg.Fetch.HostInterval() != time.Second {
		t.Errorf("Fetch.HostInterval() = %v, want 1s", cfg.Fetch.HostInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"memory database", func(c *Config) { c.Database = DatabaseConfig{Type: "memory"} }, false},
		{"sqlite without data_dir", func(c *Config) { c.Database.DataDir = "" }, true},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"negative concurrency", func(c *Config) { c.Fetch.MaxConcurrent = -1 }, true},
		{"negative queue", func(c *Config) { c.Engine.QueueSize = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "conf", "pindash.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pindash.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "pindash.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/pindash.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})

	t.Run("returns error for malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pindash.toml")
		if err := os.WriteFile(path, []byte("base_dir = ["), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected error for malformed file")
		}
	})
}
