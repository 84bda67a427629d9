// Package config handles application configuration via TOML files.
// Configuration is stored at ~/.config/snowfl-tui/config.toml and includes
// settings for the snowfl client, the token cache, qBittorrent, downloads
// and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/litescript/snowfl-tui/internal/cache"
	"github.com/litescript/snowfl-tui/internal/snowfl"
)

// EnvPath overrides ConfigPath when set.
const EnvPath = "SNOWFL_TUI_CONFIG"

// Config holds application configuration
type Config struct {
	Snowfl      SnowflConfig      `toml:"snowfl"`
	Cache       CacheConfig       `toml:"cache"`
	QBittorrent QBittorrentConfig `toml:"qbittorrent"`
	Downloads   DownloadsConfig   `toml:"downloads"`
	Log         LogConfig         `toml:"log"`
}

// SnowflConfig holds settings for the aggregator client
type SnowflConfig struct {
	BaseURL string `toml:"base_url"`

	// DefaultSort is one of SEED, SIZE, SIZE_ASC, DATE, NAME, NONE.
	DefaultSort string `toml:"default_sort"`

	// StrictToken fails searches when no token can be discovered instead
	// of sending requests with an empty token.
	StrictToken bool `toml:"strict_token"`

	TimeoutSeconds int `toml:"timeout_seconds"`
}

// CacheConfig selects where the discovered token is persisted
type CacheConfig struct {
	// Backend is "none", "memory" or "sqlite".
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	Key        string `toml:"key"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// QBittorrentConfig holds qBittorrent Web API settings
type QBittorrentConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// DownloadsConfig holds download settings
type DownloadsConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls the rotating log file. An empty File logs to stderr.
type LogConfig struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Default returns the default configuration
func Default() Config {
	home, _ := os.UserHomeDir()

	return Config{
		Snowfl: SnowflConfig{
			BaseURL:        snowfl.DefaultBaseURL,
			DefaultSort:    string(snowfl.DefaultSortFilter),
			StrictToken:    true,
			TimeoutSeconds: int(snowfl.DefaultTimeout / time.Second),
		},
		Cache: CacheConfig{
			Backend:    cache.BackendSQLite,
			Path:       cache.DefaultSQLitePath(),
			Key:        snowfl.DefaultCacheKey,
			TTLSeconds: int(snowfl.DefaultCacheTTL / time.Second),
		},
		QBittorrent: QBittorrentConfig{
			Host:     "localhost",
			Port:     8080,
			Username: "admin",
			Password: "adminadmin",
		},
		Downloads: DownloadsConfig{
			Path: filepath.Join(home, "Downloads", "torrents"),
		},
		Log: LogConfig{
			File:       filepath.Join(home, ".local", "state", "snowfl-tui", "snowfl-tui.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "snowfl-tui", "config.toml")
}

// Load reads config from disk or returns defaults
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads config at path. A missing file yields defaults.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		// No config file, return defaults
		return cfg, nil
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Save writes config to disk
func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo writes cfg to path, creating parent directories.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if _, err := snowfl.ParseSortFilter(c.Snowfl.DefaultSort); err != nil {
		return fmt.Errorf("snowfl.default_sort: %w", err)
	}
	switch c.Cache.Backend {
	case "", cache.BackendNone, cache.BackendMemory, cache.BackendSQLite:
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// SortFilter returns the configured default sort, falling back to the
// client default if the value is invalid.
func (c Config) SortFilter() snowfl.SortFilter {
	f, err := snowfl.ParseSortFilter(c.Snowfl.DefaultSort)
	if err != nil {
		return snowfl.DefaultSortFilter
	}
	return f
}

// Timeout returns the HTTP timeout for upstream requests.
func (c Config) Timeout() time.Duration {
	if c.Snowfl.TimeoutSeconds <= 0 {
		return snowfl.DefaultTimeout
	}
	return time.Duration(c.Snowfl.TimeoutSeconds) * time.Second
}

// CacheTTL returns the token cache TTL.
func (c Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return snowfl.DefaultCacheTTL
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// EnsureDownloadDir creates the download directory if it doesn't exist
func EnsureDownloadDir(cfg Config) error {
	return os.MkdirAll(cfg.Downloads.Path, 0755)
}
