package requery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds client-wide defaults. Individual queries override them
// through Define options.
type Config struct {
	// RetryLimit bounds automatic retries after a failed execution.
	RetryLimit int
	// RetryTime is the fixed interval between automatic retries.
	RetryTime time.Duration
	// RevalidateTime is the default background revalidation period for
	// queries that enable revalidation without naming their own.
	RevalidateTime time.Duration
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		RetryLimit:     3,
		RetryTime:      2 * time.Second,
		RevalidateTime: 30 * time.Second,
	}
}

func (c Config) validate() error {
	if c.RetryLimit < 0 {
		return &ConfigError{Field: "retry_limit", Reason: "must be >= 0"}
	}
	if c.RetryTime <= 0 {
		return &ConfigError{Field: "retry_time", Reason: "must be > 0"}
	}
	if c.RevalidateTime <= 0 {
		return &ConfigError{Field: "revalidate_time", Reason: "must be > 0"}
	}
	return nil
}

// fileConfig mirrors the TOML layout. Durations are strings in
// time.ParseDuration form, such as "2s" or "500ms".
type fileConfig struct {
	RetryLimit     *int   `toml:"retry_limit"`
	RetryTime      string `toml:"retry_time"`
	RevalidateTime string `toml:"revalidate_time"`
}

// LoadConfig reads a TOML config file, applying defaults for anything the
// file omits. A missing file is not an error; the defaults are returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	resolved, err := expandPath(path)
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("requery: reading config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("requery: parsing config: %w", err)
	}

	if raw.RetryLimit != nil {
		cfg.RetryLimit = *raw.RetryLimit
	}
	if raw.RetryTime != "" {
		d, err := time.ParseDuration(raw.RetryTime)
		if err != nil {
			return cfg, &ConfigError{Field: "retry_time", Reason: err.Error()}
		}
		cfg.RetryTime = d
	}
	if raw.RevalidateTime != "" {
		d, err := time.ParseDuration(raw.RevalidateTime)
		if err != nil {
			return cfg, &ConfigError{Field: "revalidate_time", Reason: err.Error()}
		}
		cfg.RevalidateTime = d
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// expandPath resolves a leading ~ against the user's home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("requery: resolving home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
