// Package config loads the proxy configuration from an optional YAML file and
// SERENISSIMA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "SERENISSIMA_"

// Config is the complete proxy configuration.
type Config struct {
	ListenAddr      string          `yaml:"listen_addr"`
	BackendURL      string          `yaml:"backend_url"`
	UserAgent       string          `yaml:"user_agent"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Redis           RedisConfig     `yaml:"redis"`
	Log             LogConfig       `yaml:"log"`
	Cache           CacheConfig     `yaml:"cache"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RedisConfig configures the store tier. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// CacheConfig configures the response caches.
type CacheConfig struct {
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	StoreRetention  time.Duration `yaml:"store_retention"`
	ContentETag     bool          `yaml:"content_etag"`
}

// RateLimitConfig configures the outbound limiter.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Default returns the default configuration. BackendURL has no default.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		UserAgent:       "serenissima-proxy/dev",
		ShutdownTimeout: 15 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			FetchTimeout:    10 * time.Second,
			FreshnessWindow: 5 * time.Minute,
			StoreRetention:  24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Rate:  5,
			Burst: 10,
		},
	}
}

// Load reads the configuration: defaults, then the YAML file at path (if not
// empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is provided by the operator
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend_url %q is not an absolute URL", c.BackendURL))
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("user_agent is required"))
	}

	for _, field := range []struct {
		name string
		d    time.Duration
	}{
		{"cache.fetch_timeout", c.Cache.FetchTimeout},
		{"cache.freshness_window", c.Cache.FreshnessWindow},
		{"cache.store_retention", c.Cache.StoreRetention},
		{"shutdown_timeout", c.ShutdownTimeout},
	} {
		if field.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", field.name, field.d))
		}
	}
	if c.Cache.FetchTimeout > c.Cache.FreshnessWindow && c.Cache.FreshnessWindow > 0 {
		errs = append(errs, fmt.Errorf("cache.fetch_timeout (%v) must not exceed cache.freshness_window (%v)",
			c.Cache.FetchTimeout, c.Cache.FreshnessWindow))
	}

	if c.RateLimit.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rate must not be negative, got %v", c.RateLimit.Rate))
	}
	if c.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("rate_limit.burst must be at least 1, got %d", c.RateLimit.Burst))
	}

	return errors.Join(errs...)
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	strVars := map[string]*string{
		"LISTEN_ADDR":    &cfg.ListenAddr,
		"BACKEND_URL":    &cfg.BackendURL,
		"USER_AGENT":     &cfg.UserAgent,
		"REDIS_ADDR":     &cfg.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Redis.Password,
		"LOG_LEVEL":      &cfg.Log.Level,
	}
	for name, dst := range strVars {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durVars := map[string]*time.Duration{
		"FETCH_TIMEOUT":    &cfg.Cache.FetchTimeout,
		"FRESHNESS_WINDOW": &cfg.Cache.FreshnessWindow,
		"STORE_RETENTION":  &cfg.Cache.StoreRetention,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	}
	for name, dst := range durVars {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	boolVars := map[string]*bool{
		"LOG_PRETTY":   &cfg.Log.Pretty,
		"CONTENT_ETAG": &cfg.Cache.ContentETag,
	}
	for name, dst := range boolVars {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	intVars := map[string]*int{
		"REDIS_DB":   &cfg.Redis.DB,
		"RATE_BURST": &cfg.RateLimit.Burst,
	}
	for name, dst := range intVars {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT: %w", EnvPrefix, err)
		}
		cfg.RateLimit.Rate = r
	}

	return nil
}
