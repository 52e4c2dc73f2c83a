package database

import (
	"fmt"
	"path/filepath"

	"syncapp/internal/config"
)

// NewStoreFromConfig creates a Store based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return New(filepath.Join(cfg.DataDir, "syncapp.db"))
	case "memory":
		return New(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
