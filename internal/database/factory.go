package database

import (
	"fmt"
	"os"
	"path/filepath"

	"pindash/internal/config"
	"pindash/internal/reader"
)

// FileName is the database file created inside the configured data_dir.
const FileName = "pindash.db"

// NewDatabaseFromConfig opens the database selected by the config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, clock reader.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName), clock)
	case "memory":
		return NewSQLiteDatabase(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
