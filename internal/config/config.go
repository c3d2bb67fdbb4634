// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/briangreenhill/pollcache/cache"
)

// Config holds all application configuration
type Config struct {
	Cache   CacheConfig
	Log     LogConfig
	Sources SourcesConfig
	OAuth   OAuthConfig
	Refresh RefreshConfig

	Port        string `env:"PORT" envDefault:"8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL string `env:"DATABASE_URL"`
	AdminSecret string `env:"ADMIN_SECRET"`
}

// CacheConfig holds the file cache settings
type CacheConfig struct {
	Dir            string         `env:"CACHE_DIR" envDefault:"cache"`
	TTLMinutes     map[string]int `env:"CACHE_TTL_MINUTES" envDefault:"vendor:15,web:15,gme:1440"`
	RefreshSources []string       `env:"CACHE_REFRESH_SOURCES"`
	TZ             string         `env:"CACHE_TZ"`
	TTLFile        string         `env:"CACHE_TTL_FILE"`

	// DateKeys overrides the day-marker keys per "source/endpoint". Only the
	// TTL file sets it.
	DateKeys map[string][]string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"json"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

// SourcesConfig maps source names to upstream base URLs and API keys
type SourcesConfig struct {
	URLs    map[string]string `env:"SOURCE_URLS" envKeyValSeparator:"="`
	APIKeys map[string]string `env:"SOURCE_API_KEYS" envKeyValSeparator:"="`

	APIKeyHeader string        `env:"SOURCE_API_KEY_HEADER" envDefault:"X-API-Key"`
	Timeout      time.Duration `env:"SOURCE_TIMEOUT" envDefault:"20s"`
}

// OAuthConfig holds client-credentials settings for upstreams that need them
type OAuthConfig struct {
	ClientID     string   `env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"OAUTH_CLIENT_SECRET"`
	TokenURL     string   `env:"OAUTH_TOKEN_URL"`
	Scopes       []string `env:"OAUTH_SCOPES"`
	Sources      []string `env:"OAUTH_SOURCES"`
}

// RefreshConfig drives the background refresh scheduler
type RefreshConfig struct {
	Targets  []string      `env:"REFRESH_TARGETS"`
	Interval time.Duration `env:"REFRESH_INTERVAL" envDefault:"15m"`
}

// ttlFile is the YAML shape of CACHE_TTL_FILE.
type ttlFile struct {
	TTLMinutes     map[string]int      `yaml:"ttl_minutes"`
	RefreshSources []string            `yaml:"refresh_sources"`
	DateKeys       map[string][]string `yaml:"date_keys"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Cache.TTLFile != "" {
		if err := cfg.Cache.loadFile(cfg.Cache.TTLFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadFile merges a YAML TTL file over the environment values.
func (c *CacheConfig) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ttl file: %w", err)
	}
	var f ttlFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse ttl file %s: %w", path, err)
	}

	if c.TTLMinutes == nil {
		c.TTLMinutes = make(map[string]int)
	}
	for source, minutes := range f.TTLMinutes {
		c.TTLMinutes[source] = minutes
	}
	if f.RefreshSources != nil {
		c.RefreshSources = f.RefreshSources
	}
	c.DateKeys = f.DateKeys
	return nil
}

// Location returns the configured time zone, or the local one.
func (c CacheConfig) Location() (*time.Location, error) {
	if c.TZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TZ: %w", err)
	}
	return loc, nil
}

// TTLs converts the minute map into durations.
func (c CacheConfig) TTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TTLMinutes))
	for source, minutes := range c.TTLMinutes {
		out[source] = time.Duration(minutes) * time.Minute
	}
	return out
}

// HasDatabase returns true if the event log is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasOAuth returns true if client credentials are complete
func (c *Config) HasOAuth() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != "" && c.OAuth.TokenURL != ""
}

// Validate checks values that the environment parser cannot
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return errors.New("CACHE_DIR must not be empty")
	}
	for source, minutes := range c.Cache.TTLMinutes {
		if minutes <= 0 {
			return fmt.Errorf("ttl for %q must be positive, got %d", source, minutes)
		}
	}
	if _, err := c.Cache.Location(); err != nil {
		return err
	}
	for key := range c.Cache.DateKeys {
		if strings.Count(key, "/") != 1 {
			return fmt.Errorf("date_keys entry %q must be source/endpoint", key)
		}
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.Refresh.Interval)
	}
	return nil
}

// CacheOptions builds the cache store options from the configuration.
func (c *Config) CacheOptions(log zerolog.Logger, obs cache.Observer) (cache.Options, error) {
	loc, err := c.Cache.Location()
	if err != nil {
		return cache.Options{}, err
	}

	opts := cache.Options{
		Root:           c.Cache.Dir,
		TTLs:           c.Cache.TTLs(),
		RefreshSources: c.Cache.RefreshSources,
		Location:       loc,
		Extractor:      cache.DateFieldExtractor{Location: loc},
		Logger:         log,
		Observer:       obs,
	}
	if len(c.Cache.DateKeys) > 0 {
		opts.Extractors = make(map[string]cache.DateExtractor, len(c.Cache.DateKeys))
		for key, keys := range c.Cache.DateKeys {
			opts.Extractors[key] = cache.DateFieldExtractor{Keys: keys, Location: loc}
		}
	}
	return opts, nil
}
