// Package config loads the filecached daemon configuration from an optional
// YAML file overlaid by FILECACHED_* environment variables. Environment
// values always win over file values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Size fields accept human-readable
// strings ("8GiB", "512MB"), duration fields Go duration syntax ("30m").
type Config struct {
	Listen          string            `yaml:"listen"`
	CacheDir        string            `yaml:"cache_dir"`
	MaxCacheSize    string            `yaml:"max_cache_size"`
	ChunkSize       string            `yaml:"chunk_size"`
	DefaultTTL      string            `yaml:"default_ttl"`
	CleanupInterval string            `yaml:"cleanup_interval"`
	UserAgent       string            `yaml:"user_agent"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	UpstreamHeaders map[string]string `yaml:"upstream_headers"`
	Log             LogConfig         `yaml:"log"`
}

// LogConfig selects the daemon's log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file and no environment
// overrides are present. CacheDir is left empty so the cache falls back to
// the platform's user cache directory.
func Default() *Config {
	return &Config{
		Listen:          ":8290",
		MaxCacheSize:    "1GiB",
		ChunkSize:       "64KiB",
		DefaultTTL:      "24h",
		CleanupInterval: "15m",
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from the YAML file at path, if given, then
// applies environment overrides and validates the result. An empty path
// skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setFromEnv(&cfg.Listen, "FILECACHED_LISTEN")
	setFromEnv(&cfg.CacheDir, "FILECACHED_CACHE_DIR")
	setFromEnv(&cfg.MaxCacheSize, "FILECACHED_MAX_CACHE_SIZE")
	setFromEnv(&cfg.ChunkSize, "FILECACHED_CHUNK_SIZE")
	setFromEnv(&cfg.DefaultTTL, "FILECACHED_DEFAULT_TTL")
	setFromEnv(&cfg.CleanupInterval, "FILECACHED_CLEANUP_INTERVAL")
	setFromEnv(&cfg.UserAgent, "FILECACHED_USER_AGENT")
	setFromEnv(&cfg.Log.Level, "FILECACHED_LOG_LEVEL")
	setFromEnv(&cfg.Log.Format, "FILECACHED_LOG_FORMAT")
	if v := os.Getenv("FILECACHED_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that every field parses and carries a sensible value.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	if n, err := c.MaxBytes(); err != nil {
		return fmt.Errorf("max_cache_size: %w", err)
	} else if n <= 0 {
		return errors.New("max_cache_size must be positive")
	}
	if n, err := c.ChunkBytes(); err != nil {
		return fmt.Errorf("chunk_size: %w", err)
	} else if n <= 0 {
		return errors.New("chunk_size must be positive")
	}
	if d, err := c.TTL(); err != nil {
		return fmt.Errorf("default_ttl: %w", err)
	} else if d <= 0 {
		return errors.New("default_ttl must be positive")
	}
	if d, err := c.Interval(); err != nil {
		return fmt.Errorf("cleanup_interval: %w", err)
	} else if d <= 0 {
		return errors.New("cleanup_interval must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", c.Log.Format)
	}
	return nil
}

// MaxBytes returns the parsed cache budget.
func (c *Config) MaxBytes() (int64, error) {
	return units.RAMInBytes(c.MaxCacheSize)
}

// ChunkBytes returns the parsed download buffer size.
func (c *Config) ChunkBytes() (int, error) {
	n, err := units.RAMInBytes(c.ChunkSize)
	return int(n), err
}

// TTL returns the parsed default entry lifetime.
func (c *Config) TTL() (time.Duration, error) {
	return time.ParseDuration(c.DefaultTTL)
}

// Interval returns the parsed cleanup schedule interval.
func (c *Config) Interval() (time.Duration, error) {
	return time.ParseDuration(c.CleanupInterval)
}

// SlogLevel maps the configured log level onto slog.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.Log.Level)
	}
}
