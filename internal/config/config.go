// Package config loads runtime settings for the stego and DNS servers.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// .env file in the working directory, then SIMULACRA_* environment
// variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends for the DNS drop.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	DNS     DNSConfig     `yaml:"dns"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	// PassphrasePolicy enforces the strength rules on embed.
	PassphrasePolicy bool `yaml:"passphrase_policy"`
}

// HTTPConfig configures the embed/extract service.
type HTTPConfig struct {
	Addr string `yaml:"addr"`

	// MaxUploadMB caps a multipart request body.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// MaxConcurrent bounds simultaneous key derivations.
	// Default: number of CPUs
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxConnections caps open client connections. 0 disables the cap.
	MaxConnections int `yaml:"max_connections"`

	// MaxPixels caps the declared width*height of an uploaded image.
	MaxPixels int `yaml:"max_pixels"`
}

// DNSConfig configures the TXT drop server.
type DNSConfig struct {
	Addr       string `yaml:"addr"`
	Domain     string `yaml:"domain"`
	UploadAddr string `yaml:"upload_addr"`
	TTL        uint32 `yaml:"ttl"`

	// Messages older than Retention are dropped every CleanupInterval.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Retention       time.Duration `yaml:"retention"`
}

// StorageConfig selects the drop storage backend.
type StorageConfig struct {
	Kind string `yaml:"kind"`

	// Path is the JSON file or SQLite database location.
	Path string `yaml:"path"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

// ValidationError names the offending setting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8080",
			MaxUploadMB:   16,
			MaxConcurrent: runtime.NumCPU(),
			MaxPixels:     16 << 20,
		},
		DNS: DNSConfig{
			Addr:       ":5353",
			Domain:     "covert.example.com",
			UploadAddr: ":8053",
			TTL:        60,

			CleanupInterval: time.Hour,
			Retention:       24 * time.Hour,
		},
		Storage: StorageConfig{
			Kind: StorageMemory,
			Path: "simulacra-drop.json",
		},
		Log: LogConfig{
			Level: "info",
		},
		PassphrasePolicy: true,
	}
}

// Load builds a Config. path may be empty; a missing .env file is not an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Addr = GetEnvOrDefault("SIMULACRA_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.MaxUploadMB = ParseIntEnv("SIMULACRA_MAX_UPLOAD_MB", c.HTTP.MaxUploadMB)
	c.HTTP.MaxConcurrent = ParseIntEnv("SIMULACRA_MAX_CONCURRENT", c.HTTP.MaxConcurrent)
	c.HTTP.MaxConnections = ParseIntEnv("SIMULACRA_MAX_CONNECTIONS", c.HTTP.MaxConnections)
	c.HTTP.MaxPixels = ParseIntEnv("SIMULACRA_MAX_PIXELS", c.HTTP.MaxPixels)

	c.DNS.Addr = GetEnvOrDefault("SIMULACRA_DNS_ADDR", c.DNS.Addr)
	c.DNS.Domain = GetEnvOrDefault("SIMULACRA_DNS_DOMAIN", c.DNS.Domain)
	c.DNS.UploadAddr = GetEnvOrDefault("SIMULACRA_UPLOAD_ADDR", c.DNS.UploadAddr)
	c.DNS.TTL = uint32(ParseIntEnv("SIMULACRA_DNS_TTL", int(c.DNS.TTL)))
	c.DNS.CleanupInterval = ParseDurationEnv("SIMULACRA_DNS_CLEANUP", c.DNS.CleanupInterval)
	c.DNS.Retention = ParseDurationEnv("SIMULACRA_DNS_RETENTION", c.DNS.Retention)

	c.Storage.Kind = GetEnvOrDefault("SIMULACRA_STORAGE", c.Storage.Kind)
	c.Storage.Path = GetEnvOrDefault("SIMULACRA_DATA_PATH", c.Storage.Path)

	c.Log.Level = GetEnvOrDefault("SIMULACRA_LOG_LEVEL", c.Log.Level)
	c.Log.File = GetEnvOrDefault("SIMULACRA_LOG_FILE", c.Log.File)
	c.Log.Development = ParseBoolEnv("SIMULACRA_DEV", c.Log.Development)

	c.PassphrasePolicy = ParseBoolEnv("SIMULACRA_PASSPHRASE_POLICY", c.PassphrasePolicy)
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return &ValidationError{Field: "http.addr", Reason: "must not be empty"}
	case c.HTTP.MaxUploadMB <= 0:
		return &ValidationError{Field: "http.max_upload_mb", Reason: "must be positive"}
	case c.HTTP.MaxConcurrent <= 0:
		return &ValidationError{Field: "http.max_concurrent", Reason: "must be positive"}
	case c.HTTP.MaxConnections < 0:
		return &ValidationError{Field: "http.max_connections", Reason: "must not be negative"}
	case c.HTTP.MaxPixels <= 0:
		return &ValidationError{Field: "http.max_pixels", Reason: "must be positive"}
	case c.DNS.Addr == "":
		return &ValidationError{Field: "dns.addr", Reason: "must not be empty"}
	case c.DNS.Domain == "":
		return &ValidationError{Field: "dns.domain", Reason: "must not be empty"}
	case c.DNS.CleanupInterval <= 0:
		return &ValidationError{Field: "dns.cleanup_interval", Reason: "must be positive"}
	case c.DNS.Retention <= 0:
		return &ValidationError{Field: "dns.retention", Reason: "must be positive"}
	}

	switch c.Storage.Kind {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return &ValidationError{Field: "storage.path", Reason: "required for " + c.Storage.Kind + " storage"}
		}
	default:
		return &ValidationError{Field: "storage.kind", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Kind)}
	}
	return nil
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.HTTP.MaxUploadMB) << 20
}
