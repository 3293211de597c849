// Package config loads and resolves the CLI's TOML configuration with the
// layered override chain: defaults -> config file -> environment variables
// -> CLI flags. Unknown keys are fatal with "did you mean?" suggestions —
// silently ignoring a typo in a config file leads to hard-to-debug behavior.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
)

// Duration is a time.Duration that marshals to/from TOML as a string like
// "500ms" or "2s".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// StoreConfig describes the S3/MinIO-compatible object store.
type StoreConfig struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// ScopeConfig selects the key prefix this CLI operates on. Prefix, when
// set, wins over the user_id-derived prefix.
type ScopeConfig struct {
	UserID string `toml:"user_id"`
	Prefix string `toml:"prefix"`
}

// UploadConfig restricts uploads. An empty allowed_content_types list
// disables the content-type check; max_file_size 0 disables the size check.
type UploadConfig struct {
	AllowedContentTypes []string `toml:"allowed_content_types"`
	MaxFileSize         int64    `toml:"max_file_size"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce      Duration `toml:"debounce"`
	MetricsListen string   `toml:"metrics_listen"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// Config is the full config file shape.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Scope   ScopeConfig   `toml:"scope"`
	Upload  UploadConfig  `toml:"upload"`
	Watch   WatchConfig   `toml:"watch"`
	Logging LoggingConfig `toml:"logging"`
}

// Defaults.
const (
	defaultRegion   = "us-east-1"
	defaultDebounce = Duration(500 * time.Millisecond)
	defaultLogLevel = "info"
)

// DefaultConfig returns a Config populated with every default value.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Region: defaultRegion,
		},
		Upload: UploadConfig{
			AllowedContentTypes: []string{"application/pdf", "text/plain", "application/json"},
		},
		Watch: WatchConfig{
			Debounce: defaultDebounce,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
	}
}

// validLogLevels are the accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks a loaded Config for internally inconsistent values.
// Errors name the offending key.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.Logging.LogLevel] {
		return fmt.Errorf("logging.log_level: %q is not one of debug, info, warn, error", cfg.Logging.LogLevel)
	}

	if cfg.Upload.MaxFileSize < 0 {
		return fmt.Errorf("upload.max_file_size: must not be negative, got %d", cfg.Upload.MaxFileSize)
	}

	if time.Duration(cfg.Watch.Debounce) < 0 {
		return fmt.Errorf("watch.debounce: must not be negative, got %s", time.Duration(cfg.Watch.Debounce))
	}

	if cfg.Scope.UserID != "" && strings.Contains(cfg.Scope.UserID, keyspace.Separator) {
		return fmt.Errorf("scope.user_id: %q must not contain %q", cfg.Scope.UserID, keyspace.Separator)
	}

	return nil
}

// ScopeFor derives the engine scope from the config: an explicit prefix
// wins, otherwise the canonical per-user prefix. Errors when neither is
// configured.
func (c *Config) ScopeFor() (keyspace.Scope, error) {
	if c.Scope.Prefix != "" {
		return keyspace.NewScope(c.Scope.Prefix)
	}

	if c.Scope.UserID != "" {
		return keyspace.UserScope(c.Scope.UserID)
	}

	return keyspace.Scope{}, fmt.Errorf("no scope configured — set scope.user_id or scope.prefix")
}
