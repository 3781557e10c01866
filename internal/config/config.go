package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for smig.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	TempDir  string         `toml:"temp_dir"` // local staging area for downloads
	Sites    []SiteConfig   `toml:"sites"`
	Source   SourceConfig   `toml:"source"`
	Queue    QueueConfig    `toml:"queue"`
	Blob     BlobConfig     `toml:"blob"`
	Database DatabaseConfig `toml:"database"`
	Analysis AnalysisConfig `toml:"analysis"`
}

// SiteConfig is one site to crawl and migrate. Filter holds the per-site
// filter JSON; empty or malformed filters include everything.
type SiteConfig struct {
	URL    string `toml:"url"`
	Filter string `toml:"filter,omitempty"`
}

// SourceConfig configures authentication and throttling for the content
// source. Auth uses a tagged union pattern - the Auth field determines which
// other fields are relevant.
type SourceConfig struct {
	Auth      string `toml:"auth"` // "static", "env", or "file"
	Token     string `toml:"token,omitempty"`
	TokenEnv  string `toml:"token_env,omitempty"`
	TokenPath string `toml:"token_path,omitempty"`

	MaxAttempts       int     `toml:"max_attempts"`
	MaxConcurrent     int     `toml:"max_concurrent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// QueueConfig configures the durable migration queue.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type QueueConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	// LockTimeoutSeconds is the base message lock; consumers renew it up to
	// their lock-renewal ceiling. Defaults to 300.
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`

	// MaxDeliveryCount dead-letters a message after this many deliveries.
	// Zero means unlimited; abandoned messages then retry indefinitely.
	MaxDeliveryCount int `toml:"max_delivery_count"`
}

// BlobConfig configures the migration destination.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type BlobConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// DatabaseConfig configures the metadata database.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// AnalysisConfig tunes the snapshot builder's enrichment scheduling.
type AnalysisConfig struct {
	BatchSize          int `toml:"batch_size"`
	PollSeconds        int `toml:"poll_seconds"`
	MaxConcurrentCalls int `toml:"max_concurrent_calls"`
	MaxAgeDays         int `toml:"max_age_days"` // freshness window for skipping re-analysis
}

// NewConfig creates a new Config with the provided base directory and
// default sub-configs.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		TempDir: filepath.Join(baseDir, "tmp"),
		Source: SourceConfig{
			Auth:      "file",
			TokenPath: filepath.Join(baseDir, "token"),
		},
		Queue:    QueueConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "queue"), LockTimeoutSeconds: 300},
		Blob:     BlobConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "blobs")},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
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

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
