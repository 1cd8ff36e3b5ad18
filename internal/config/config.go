package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for kisync.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Database    DatabaseConfig    `toml:"database"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
	Index       IndexConfig       `toml:"index"`
	Lock        LockConfig        `toml:"lock"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Sync        SyncConfig        `toml:"sync"`
}

// DatabaseConfig represents configuration for the metadata catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ObjectStoreConfig represents configuration for blob content storage.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"` // custom endpoint for S3-compatible stores
	S3AccessKey    string `toml:"s3_access_key,omitempty"`
	S3SecretKey    string `toml:"s3_secret_key,omitempty"`
	S3UsePathStyle bool   `toml:"s3_use_path_style,omitempty"`
}

// IndexConfig represents configuration for the remote index provider.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IndexConfig struct {
	Type string `toml:"type"` // "memory" or "qdrant"

	// Qdrant-specific fields (only used when Type == "qdrant")
	QdrantHost   string `toml:"qdrant_host,omitempty"`
	QdrantPort   int    `toml:"qdrant_port,omitempty"`
	QdrantAPIKey string `toml:"qdrant_api_key,omitempty"`
	QdrantUseTLS bool   `toml:"qdrant_use_tls,omitempty"`

	// Dimensionality of embedding vectors. Defaults to 384 when zero.
	EmbeddingDims int `toml:"embedding_dims,omitempty"`
}

// LockConfig represents configuration for per-source sync locking.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LockConfig struct {
	Type string `toml:"type"` // "local" or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	TTLSeconds    int    `toml:"ttl_seconds,omitempty"` // lock expiry; defaults to 1800
}

// EncryptionConfig holds paths to the age key pair used for at-rest
// content encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age", or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// SyncConfig holds retry tuning for provider and fetch calls.
type SyncConfig struct {
	RetryMaxAttempts     uint    `toml:"retry_max_attempts"`      // defaults to 3
	RetryInitialMillis   int     `toml:"retry_initial_millis"`    // defaults to 500
	RetryMultiplier      float64 `toml:"retry_multiplier"`        // defaults to 2.0
	WikiPageSize         int     `toml:"wiki_page_size"`          // defaults to 50
	RepositoryCloneDepth int     `toml:"repository_clone_depth"`  // defaults to 1
}

// NewConfig creates a new Config with the provided base directory and
// sensible defaults for a local setup.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		ObjectStore: ObjectStoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "store"),
		},
		Index: IndexConfig{
			Type: "memory",
		},
		Lock: LockConfig{
			Type: "local",
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "kisync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "kisync.key"),
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
