package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnvOverrides holds values read from PAPERDRIVE_* environment variables.
type EnvOverrides struct {
	ConfigPath      string
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UserID          string
	LogLevel        string
}

// ReadEnvOverrides reads the supported environment variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:      os.Getenv("PAPERDRIVE_CONFIG"),
		Endpoint:        os.Getenv("PAPERDRIVE_ENDPOINT"),
		Bucket:          os.Getenv("PAPERDRIVE_BUCKET"),
		AccessKeyID:     os.Getenv("PAPERDRIVE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("PAPERDRIVE_SECRET_ACCESS_KEY"),
		UserID:          os.Getenv("PAPERDRIVE_USER_ID"),
		LogLevel:        os.Getenv("PAPERDRIVE_LOG_LEVEL"),
	}
}

// CLIOverrides holds values from persistent CLI flags. Empty means "not
// specified".
type CLIOverrides struct {
	ConfigPath string
	Bucket     string
	UserID     string
	Prefix     string
}

// Load reads and parses a TOML config file, rejects unknown keys, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// the defaults. Supports the zero-config first run: everything can come
// from environment variables and flags.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the full override chain and validates the result:
// defaults -> config file -> environment -> CLI flags. CLI flags always
// win, matching user expectations for one-off overrides.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.Endpoint != "" {
		cfg.Store.Endpoint = env.Endpoint
	}

	if env.Bucket != "" {
		cfg.Store.Bucket = env.Bucket
	}

	if env.AccessKeyID != "" {
		cfg.Store.AccessKeyID = env.AccessKeyID
	}

	if env.SecretAccessKey != "" {
		cfg.Store.SecretAccessKey = env.SecretAccessKey
	}

	if env.UserID != "" {
		cfg.Scope.UserID = env.UserID
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.Bucket != "" {
		cfg.Store.Bucket = cli.Bucket
	}

	if cli.UserID != "" {
		cfg.Scope.UserID = cli.UserID
	}

	if cli.Prefix != "" {
		cfg.Scope.Prefix = cli.Prefix
	}
}

// maxSuggestionDistance is the maximum edit distance for "did you mean?"
// suggestions on unknown config keys.
const maxSuggestionDistance = 3

// knownKeys are every valid dotted key in the config file.
var knownKeys = []string{
	"store.endpoint", "store.region", "store.bucket",
	"store.access_key_id", "store.secret_access_key", "store.use_path_style",
	"scope.user_id", "scope.prefix",
	"upload.allowed_content_types", "upload.max_file_size",
	"watch.debounce", "watch.metrics_listen",
	"logging.log_level",
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(undecoded))

	for _, key := range undecoded {
		msg := fmt.Sprintf("unknown config key %q", key.String())
		if suggestion := closestKnownKey(key.String()); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}

		msgs = append(msgs, msg)
	}

	sort.Strings(msgs)

	return errors.New(strings.Join(msgs, "; "))
}

// closestKnownKey returns the known key with the smallest edit distance, or
// "" when nothing is close enough to suggest.
func closestKnownKey(key string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, known := range knownKeys {
		if d := levenshtein(key, known); d < bestDist {
			best = known
			bestDist = d
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}

		prev, cur = cur, prev
	}

	return prev[len(b)]
}
