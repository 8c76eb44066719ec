// Package config loads pipeline configuration from a YAML file with
// environment overrides, applying defaults in code.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"` // "file" or "redis"
	Dir      string        `mapstructure:"dir"`
	Redis    RedisConfig   `mapstructure:"redis"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds redis backend settings; the password comes from the
// DEEPRESEARCH_CACHE_REDIS_PASSWORD environment variable.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// PlanDefaults are the plan parameters applied when the caller does not
// override them per run.
type PlanDefaults struct {
	Workers int    `mapstructure:"workers"`
	Depth   string `mapstructure:"depth"`
	Budget  int    `mapstructure:"budget"`
	Lang    string `mapstructure:"lang"`
	// FetchRate throttles source acquisition to this many requests per
	// second; 0 means unthrottled.
	FetchRate float64 `mapstructure:"fetch_rate"`
}

// StoreConfig configures the sqlite run index.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Config is the root configuration.
type Config struct {
	RunsDir string       `mapstructure:"runs_dir"`
	Plan    PlanDefaults `mapstructure:"plan"`
	Cache   CacheConfig  `mapstructure:"cache"`
	Store   StoreConfig  `mapstructure:"store"`
	Log     LogConfig    `mapstructure:"log"`
}

// Load reads configuration from path (optional) merged over defaults,
// with DEEPRESEARCH_* environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("runs_dir", "./runs")
	v.SetDefault("plan.workers", 5)
	v.SetDefault("plan.depth", "medium")
	v.SetDefault("plan.budget", 10)
	v.SetDefault("plan.lang", "en")
	v.SetDefault("plan.fetch_rate", 0.0)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", "./runs/.cache")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("store.path", "./runs/index.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvPrefix("DEEPRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Plan.Workers <= 0 {
		return fmt.Errorf("config: plan.workers must be positive, got %d", c.Plan.Workers)
	}
	if c.Plan.Budget <= 0 {
		return fmt.Errorf("config: plan.budget must be positive, got %d", c.Plan.Budget)
	}
	if c.Plan.FetchRate < 0 {
		return fmt.Errorf("config: plan.fetch_rate must not be negative, got %g", c.Plan.FetchRate)
	}
	switch c.Cache.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Plan.Depth {
	case "shallow", "medium", "deep":
	default:
		return fmt.Errorf("config: unknown depth %q", c.Plan.Depth)
	}
	return nil
}
