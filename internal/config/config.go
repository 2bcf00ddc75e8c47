package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for vaultedge.
type Config struct {
	InstanceID string         `toml:"instance_id" validate:"required"`
	BaseDir    string         `toml:"base_dir" validate:"required"`
	LogDir     string         `toml:"log_dir" validate:"required"`
	Storage    StorageConfig  `toml:"storage"`
	Mappings   MappingsConfig `toml:"mappings"`
	Database   DatabaseConfig `toml:"database"`
	Export     ExportConfig   `toml:"export"`
}

// StorageConfig locates the storage root and bounds single uploads.
type StorageConfig struct {
	Root           string `toml:"root" validate:"required"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" validate:"gte=0"` // 0 means the 2 GiB default
}

// MappingsConfig selects the identity mapping store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MappingsConfig struct {
	Type string `toml:"type" validate:"required,oneof=file memory"`
}

// DatabaseConfig represents configuration for the operation journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"` // only used for type=sqlite
}

// ExportConfig configures where archive exports are delivered.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ExportConfig struct {
	Type string `toml:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	Dir string `toml:"dir,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" validate:"omitempty,url"`

	// Recipient is an age X25519 public key; exports are encrypted to it when set.
	Recipient string `toml:"recipient,omitempty" validate:"omitempty,startswith=age1"`
}

// NewConfig creates a new Config with defaults rooted at baseDir.
func NewConfig(instanceID, baseDir string) *Config {
	cfg := &Config{InstanceID: instanceID, BaseDir: baseDir}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field that has a default derived from BaseDir.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.Storage.Root == "" && c.BaseDir != "" {
		c.Storage.Root = filepath.Join(c.BaseDir, "storage")
	}
	if c.Mappings.Type == "" {
		c.Mappings.Type = "file"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" && c.BaseDir != "" {
		c.Database.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Export.Type == "" {
		c.Export.Type = "filesystem"
	}
	if c.Export.Type == "filesystem" && c.Export.Dir == "" && c.BaseDir != "" {
		c.Export.Dir = filepath.Join(c.BaseDir, "exports")
	}
}

// Validate checks the configuration's struct tags.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
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

// ReadFromFile reads a Config from path, applies defaults and validates it.
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
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
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
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
