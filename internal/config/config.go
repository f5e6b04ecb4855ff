package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dgnsrekt/gribget/internal/index"
)

type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Fields  []string      `mapstructure:"fields"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Subset  SubsetConfig  `mapstructure:"subset"`
	Index   IndexConfig   `mapstructure:"index"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type SourceConfig struct {
	Mirror  string `mapstructure:"mirror"`
	Product string `mapstructure:"product"`
}

type FetchConfig struct {
	MaxConcurrentPerHost int     `mapstructure:"max_concurrent_per_host"`
	RatePerSecond        float64 `mapstructure:"rate_per_second"`
	RetryAttempts        int     `mapstructure:"retry_attempts"`
	RetryBackoffSec      int     `mapstructure:"retry_backoff_sec"`
	PerAttemptTimeoutSec int     `mapstructure:"per_attempt_timeout_sec"`
}

type SubsetConfig struct {
	TimeoutSec    int  `mapstructure:"timeout_sec"`
	BestEffort    bool `mapstructure:"best_effort"`
	VerifyFraming bool `mapstructure:"verify_framing"`
}

type IndexConfig struct {
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
}

type CacheConfig struct {
	Directory   string `mapstructure:"directory"`
	MaxBytes    int64  `mapstructure:"max_bytes"`
	MaxAgeHours int    `mapstructure:"max_age_hours"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("source.mirror", string(MirrorGoogle))
	v.SetDefault("source.product", "hrrr.t%02dz.wrfsfcf%02d.grib2")
	v.SetDefault("fetch.max_concurrent_per_host", 6)
	v.SetDefault("fetch.rate_per_second", 4)
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("fetch.retry_backoff_sec", 1)
	v.SetDefault("fetch.per_attempt_timeout_sec", 10)
	v.SetDefault("subset.timeout_sec", 120)
	v.SetDefault("subset.best_effort", false)
	v.SetDefault("subset.verify_framing", true)
	v.SetDefault("index.duplicate_policy", string(index.DuplicateFirst))
	v.SetDefault("cache.directory", "cache")
	v.SetDefault("cache.max_bytes", int64(5)<<30)
	v.SetDefault("cache.max_age_hours", 168)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("GRIBGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if !ValidMirrors[Mirror(c.Source.Mirror)] {
		return fmt.Errorf("unknown mirror %q (valid: %s)", c.Source.Mirror, validMirrorsList())
	}
	if c.Fetch.MaxConcurrentPerHost < 1 {
		return fmt.Errorf("max_concurrent_per_host must be >= 1")
	}
	if c.Fetch.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be > 0")
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	switch index.DuplicatePolicy(c.Index.DuplicatePolicy) {
	case index.DuplicateFirst, index.DuplicateLast:
	default:
		return fmt.Errorf("duplicate_policy must be %q or %q", index.DuplicateFirst, index.DuplicateLast)
	}
	if c.Cache.Directory == "" {
		return fmt.Errorf("cache directory is required")
	}
	return nil
}

// SubsetTimeout returns the configured per-request deadline; zero
// disables it.
func (c *Config) SubsetTimeout() time.Duration {
	return time.Duration(c.Subset.TimeoutSec) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Fetch.RetryBackoffSec) * time.Second
}

func (c *Config) PerAttemptTimeout() time.Duration {
	return time.Duration(c.Fetch.PerAttemptTimeoutSec) * time.Second
}

func (c *Config) CacheMaxAge() time.Duration {
	return time.Duration(c.Cache.MaxAgeHours) * time.Hour
}
