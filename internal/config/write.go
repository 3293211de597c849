package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// File and directory permissions for written config.
const (
	configFilePerms = 0o600 // credentials live here
	configDirPerms  = 0o755
)

// Save writes cfg as TOML to path, creating parent directories. The file is
// written 0600 because it carries store credentials.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerms); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, configFilePerms)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// RenderEffective writes the resolved configuration in a human-readable
// form, with the secret key redacted.
func RenderEffective(cfg *Config, w io.Writer) error {
	secret := "(not set)"
	if cfg.Store.SecretAccessKey != "" {
		secret = "(redacted)"
	}

	endpoint := cfg.Store.Endpoint
	if endpoint == "" {
		endpoint = "(aws default)"
	}

	scope := cfg.Scope.Prefix
	if scope == "" && cfg.Scope.UserID != "" {
		scope = "user-" + cfg.Scope.UserID + "/"
	}

	if scope == "" {
		scope = "(not set)"
	}

	allowed := "(any)"
	if len(cfg.Upload.AllowedContentTypes) > 0 {
		allowed = fmt.Sprint(cfg.Upload.AllowedContentTypes)
	}

	_, err := fmt.Fprintf(w, `[store]
endpoint          = %s
region            = %s
bucket            = %s
access_key_id     = %s
secret_access_key = %s
use_path_style    = %t

[scope]
prefix            = %s

[upload]
allowed_content_types = %s
max_file_size         = %d

[watch]
debounce          = %s
metrics_listen    = %s

[logging]
log_level         = %s
`,
		endpoint, cfg.Store.Region, cfg.Store.Bucket, cfg.Store.AccessKeyID, secret,
		cfg.Store.UsePathStyle, scope, allowed, cfg.Upload.MaxFileSize,
		time.Duration(cfg.Watch.Debounce), cfg.Watch.MetricsListen, cfg.Logging.LogLevel)

	return err
}
