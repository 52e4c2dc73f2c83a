package database_test

import (
	"testing"

	"syncapp/internal/config"
	"syncapp/internal/database"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := database.NewStoreFromConfig(config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		}
		got, err := database.NewStoreFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := database.NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite"})
		if err == nil {
			got.Close()
			t.Error("NewStoreFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := database.NewStoreFromConfig(config.DatabaseConfig{Type: "unknown"})
		if err == nil {
			got.Close()
			t.Error("NewStoreFromConfig() expected error for unknown type")
		}
	})
}
