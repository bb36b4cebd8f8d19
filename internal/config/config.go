// Package config loads and validates the rss-fuse TOML configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/9diov/rss-fuse/internal/rfserr"
)

// Config is the parsed and defaulted contents of config.toml.
type Config struct {
	Feeds    map[string]string `toml:"feeds"`
	Settings Settings          `toml:"settings"`
	Fuse     FuseOptions       `toml:"fuse"`
	Cache    CacheOptions      `toml:"cache"`
}

type Settings struct {
	RefreshInterval   int  `toml:"refresh_interval"`
	CacheDuration     int  `toml:"cache_duration"`
	MaxArticles       int  `toml:"max_articles"`
	ArticleContent    bool `toml:"article_content"`
	Timeout           int  `toml:"timeout"`
	RetryAttempts     int  `toml:"retry_attempts"`
	ConcurrentFetches int  `toml:"concurrent_fetches"`
}

type FuseOptions struct {
	AllowOther  bool `toml:"allow_other"`
	AllowRoot   bool `toml:"allow_root"`
	AutoUnmount bool `toml:"auto_unmount"`
	ReadOnly    bool `toml:"read_only"`
}

type CacheOptions struct {
	MaxSizeMB       int `toml:"max_size_mb"`
	CleanupInterval int `toml:"cleanup_interval"`
}

// DefaultConfig returns a Config populated with the defaults from spec §6.
func DefaultConfig() *Config {
	return &Config{
		Feeds: map[string]string{},
		Settings: Settings{
			RefreshInterval:   3600,
			CacheDuration:     14400,
			MaxArticles:       100,
			ArticleContent:    true,
			Timeout:           30,
			RetryAttempts:     3,
			ConcurrentFetches: 5,
		},
		Fuse: FuseOptions{
			AllowOther:  false,
			AllowRoot:   false,
			AutoUnmount: false,
			ReadOnly:    true,
		},
		Cache: CacheOptions{
			MaxSizeMB:       100,
			CleanupInterval: 300,
		},
	}
}

func (s Settings) RefreshIntervalDuration() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}

func (s Settings) CacheDurationDuration() time.Duration {
	return time.Duration(s.CacheDuration) * time.Second
}

func (s Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Load loads configuration from path (the default path when path is "")
// using the real environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPathWithEnv(getenv)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rfserr.Wrap(rfserr.Config, fmt.Sprintf("config file %s not found; run `rss-fuse init`", path), err)
		}
		return nil, rfserr.Wrap(rfserr.Io, "read config file", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, rfserr.Wrap(rfserr.Config, "parse config file", err)
	}

	applyEnvOverrides(cfg, getenv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides mutates cfg in place per spec §6's environment
// overrides, which take precedence over the config file.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("RSS_FUSE_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settings.RefreshInterval = n
		}
	}
	if v := getenv("RSS_FUSE_MAX_ARTICLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Settings.MaxArticles = n
		}
	}
	// RSS_FUSE_LOG_LEVEL has no field on Config since log level is not
	// persisted; LogLevel resolves it, and the CLI does not consult it.
}

// LogLevel resolves the effective log level from the environment, falling
// back to "info".
func LogLevel(getenv func(string) string) string {
	if v := getenv("RSS_FUSE_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// Validate checks the invariants spec §6 requires of a loaded config.
func Validate(cfg *Config) error {
	for name, rawURL := range cfg.Feeds {
		if name == "" {
			return rfserr.New(rfserr.Config, "feed name must not be empty")
		}
		if strings.Contains(name, "/") {
			return rfserr.New(rfserr.Config, fmt.Sprintf("feed name %q must be a single path component", name))
		}
		if err := validateFeedURL(rawURL); err != nil {
			return err
		}
	}

	if cfg.Settings.RefreshInterval == 0 {
		return rfserr.New(rfserr.Config, "settings.refresh_interval must not be 0")
	}
	if cfg.Settings.MaxArticles == 0 {
		return rfserr.New(rfserr.Config, "settings.max_articles must not be 0")
	}

	return nil
}

func validateFeedURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rfserr.Wrap(rfserr.InvalidUrl, fmt.Sprintf("malformed feed url %q", rawURL), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return rfserr.New(rfserr.InvalidUrl, fmt.Sprintf("feed url %q must use http or https", rawURL))
	}
	return nil
}

// DefaultPath returns the default config file path using the real
// environment.
func DefaultPath() string {
	return DefaultPathWithEnv(os.Getenv)
}

func DefaultPathWithEnv(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rss-fuse", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "rss-fuse", "config.toml")
}

// Save writes cfg back to path in TOML form, used by add-feed/remove-feed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rfserr.Wrap(rfserr.Io, "create config directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return rfserr.Wrap(rfserr.Io, "create config file", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return rfserr.Wrap(rfserr.Serialization, "encode config file", err)
	}
	return nil
}
