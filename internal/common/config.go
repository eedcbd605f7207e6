// Package common provides shared utilities for Depot
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for Depot
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Processing  ProcessingConfig `toml:"processing"`
	Auth        AuthConfig       `toml:"auth"`
	Encryption  EncryptionConfig `toml:"encryption"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration for the embedding transport layer.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds metadata store and object data configuration.
// Backend is "memory" (default, tests) or "surrealdb".
type StorageConfig struct {
	Backend   string `toml:"backend"`
	DataPath  string `toml:"data_path"`
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// QueueConfig holds job queue tuning for the default "processing" queue.
type QueueConfig struct {
	Concurrency    int    `toml:"concurrency"`
	MaxJobs        int    `toml:"max_jobs"`
	DefaultTimeout string `toml:"default_timeout"`
	RetrySweep     string `toml:"retry_sweep"`
	HousekeepTTL   string `toml:"housekeep_ttl"`
}

// GetDefaultTimeout parses and returns the per-job timeout duration.
func (c *QueueConfig) GetDefaultTimeout() time.Duration {
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetRetrySweep parses and returns the retry sweep interval.
func (c *QueueConfig) GetRetrySweep() time.Duration {
	d, err := time.ParseDuration(c.RetrySweep)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetHousekeepTTL parses and returns the archived job retention duration.
func (c *QueueConfig) GetHousekeepTTL() time.Duration {
	d, err := time.ParseDuration(c.HousekeepTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ProcessingConfig holds typed file processor limits.
type ProcessingConfig struct {
	MaxImageBytes      int64  `toml:"max_image_bytes"`
	MaxPDFBytes        int64  `toml:"max_pdf_bytes"`
	MaxCSVBytes        int64  `toml:"max_csv_bytes"`
	CompressionEnabled bool   `toml:"compression_enabled"`
	FetchTimeout       string `toml:"fetch_timeout"`
	FetchRateLimit     int    `toml:"fetch_rate_limit"`
}

// GetFetchTimeout parses and returns the download timeout duration.
func (c *ProcessingConfig) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// AuthConfig holds share-token signing configuration.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	ShareExpiry string `toml:"share_expiry"` // duration string, default "168h"
}

// GetShareExpiry parses and returns the share token expiry duration.
func (c *AuthConfig) GetShareExpiry() time.Duration {
	d, err := time.ParseDuration(c.ShareExpiry)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// EncryptionConfig holds the optional content encryption key.
// Key must be 64 hex characters (32 bytes) when set.
type EncryptionConfig struct {
	ContentKey string `toml:"content_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Backend:   "memory",
			DataPath:  "data/objects",
			Address:   "ws://localhost:8000/rpc",
			Username:  "root",
			Password:  "root",
			Namespace: "depot",
			Database:  "depot",
		},
		Queue: QueueConfig{
			Concurrency:    3,
			MaxJobs:        500,
			DefaultTimeout: "5m",
			RetrySweep:     "30s",
			HousekeepTTL:   "24h",
		},
		Processing: ProcessingConfig{
			MaxImageBytes:      20 << 20,
			MaxPDFBytes:        40 << 20,
			MaxCSVBytes:        50 << 20,
			CompressionEnabled: true,
			FetchTimeout:       "30s",
			FetchRateLimit:     10,
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			ShareExpiry: "168h",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Outputs:  []string{"console"},
			FilePath: "./logs/depot.log",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DEPOT_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("DEPOT_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("DEPOT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("DEPOT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if backend := os.Getenv("DEPOT_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}

	if addr := os.Getenv("DEPOT_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}

	if path := os.Getenv("DEPOT_DATA_PATH"); path != "" {
		config.Storage.DataPath = path
	}

	if v := os.Getenv("DEPOT_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}

	if v := os.Getenv("DEPOT_ENCRYPTION_KEY"); v != "" {
		config.Encryption.ContentKey = v
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
