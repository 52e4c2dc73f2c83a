package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/syncapp",
		LogDir:   "/home/user/.local/share/syncapp/log",
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/syncapp/db"},
		Checksum: ChecksumConfig{Workers: 4},
		Executor: ExecutorConfig{MaxRetries: 5, BaseBackoffSeconds: 60},
		S3: S3Config{
			Region:   "eu-west-1",
			Endpoint: "http://localhost:9000",
		},
		GCS:    GCSConfig{CredentialsFile: "/home/user/gcs.json"},
		GDrive: GDriveConfig{CredentialsFile: "/home/user/drive.json"},
		SSH:    SSHConfig{User: "sync", KeyFile: "/home/user/.ssh/id_ed25519"},
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

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Database.Type != "sqlite" || got.Database.DataDir != original.Database.DataDir {
		t.Errorf("Database = %+v", got.Database)
	}
	if got.Checksum.Workers != 4 {
		t.Errorf("Checksum.Workers = %d, want 4", got.Checksum.Workers)
	}
	if got.Executor.MaxRetries != 5 || got.Executor.BaseBackoffSeconds != 60 {
		t.Errorf("Executor = %+v", got.Executor)
	}
	if got.S3.Region != "eu-west-1" || got.S3.Endpoint != "http://localhost:9000" {
		t.Errorf("S3 = %+v", got.S3)
	}
	if got.GCS.CredentialsFile != original.GCS.CredentialsFile {
		t.Errorf("GCS.CredentialsFile = %q", got.GCS.CredentialsFile)
	}
	if got.GDrive.CredentialsFile != original.GDrive.CredentialsFile {
		t.Errorf("GDrive.CredentialsFile = %q", got.GDrive.CredentialsFile)
	}
	if got.SSH.User != "sync" || got.SSH.KeyFile != original.SSH.KeyFile {
		t.Errorf("SSH = %+v", got.SSH)
	}
}

func TestManager_Read_InvalidTOML(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(bytes.NewBufferString("not [ valid toml")); err == nil {
		t.Error("Read() with invalid TOML succeeded")
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/data/syncapp")

	if cfg.LogDir != filepath.Join("/data/syncapp", "log") {
		t.Errorf("LogDir = %q", cfg.LogDir)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
	}
	if cfg.Database.DataDir != filepath.Join("/data/syncapp", "db") {
		t.Errorf("Database.DataDir = %q", cfg.Database.DataDir)
	}
	if cfg.Executor.MaxRetries != 3 || cfg.Executor.BaseBackoffSeconds != 30 {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates the file and parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "syncapp.toml")

		if err := Init(path, NewConfig("/data/syncapp")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if cfg.Database.Type != "sqlite" {
			t.Errorf("Database.Type = %q, want sqlite", cfg.Database.Type)
		}
	})

	t.Run("refuses to overwrite an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "syncapp.toml")
		if err := os.WriteFile(path, []byte("base_dir = \"/keep\"\n"), 0644); err != nil {
			t.Fatalf("seeding config: %v", err)
		}

		if err := Init(path, NewConfig("/data/syncapp")); err == nil {
			t.Error("Init() overwrote an existing config")
		}
		cfg, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if cfg.BaseDir != "/keep" {
			t.Errorf("existing config was modified: BaseDir = %q", cfg.BaseDir)
		}
	})
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := ReadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("ReadFromFile() with missing file succeeded")
	}
}
