// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for syncapp.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Database DatabaseConfig `toml:"database"`
	Checksum ChecksumConfig `toml:"checksum"`
	Executor ExecutorConfig `toml:"executor"`
	S3       S3Config       `toml:"s3"`
	GCS      GCSConfig      `toml:"gcs"`
	GDrive   GDriveConfig   `toml:"gdrive"`
	SSH      SSHConfig      `toml:"ssh"`
}

// DatabaseConfig selects the metadata database. The Type field determines
// which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ChecksumConfig tunes the digest worker pool.
type ChecksumConfig struct {
	Workers int `toml:"workers"` // 0 = one per CPU
}

// ExecutorConfig tunes retry behavior for pending actions.
type ExecutorConfig struct {
	MaxRetries         int `toml:"max_retries"`          // attempts before an action is flagged failed
	BaseBackoffSeconds int `toml:"base_backoff_seconds"` // first retry delay, doubled per retry
}

// S3Config holds credentials and overrides for s3:// endpoints. Empty fields
// fall back to the ambient AWS environment.
type S3Config struct {
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"` // custom endpoint, e.g. minio
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// GCSConfig holds credentials for gs:// endpoints. An empty credentials file
// falls back to application default credentials.
type GCSConfig struct {
	CredentialsFile string `toml:"credentials_file,omitempty"`
}

// GDriveConfig holds credentials for gdrive:// endpoints.
type GDriveConfig struct {
	CredentialsFile string `toml:"credentials_file,omitempty"`
}

// SSHConfig holds connection settings for ssh:// endpoints. Host key checking
// is skipped unless a known-hosts file is configured.
type SSHConfig struct {
	User           string `toml:"user,omitempty"`
	KeyFile        string `toml:"key_file,omitempty"`
	Password       string `toml:"password,omitempty"`
	KnownHostsFile string `toml:"known_hosts_file,omitempty"`
}

// NewConfig creates a Config rooted at baseDir with defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Executor: ExecutorConfig{
			MaxRetries:         3,
			BaseBackoffSeconds: 30,
		},
	}
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
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// Init initializes a new config file at path, refusing to overwrite one that
// already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
