// Package config loads process configuration from an optional YAML file and
// CONTEXTCACHE_* environment variables over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"contextcache/internal/cache"
	"contextcache/internal/generator"
	"contextcache/internal/store"
)

const EnvPrefix = "CONTEXTCACHE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Generator GeneratorConfig `mapstructure:"generator"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type StoreConfig struct {
	Backend    string        `mapstructure:"backend"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	Prefix     string        `mapstructure:"prefix"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
}

type CacheConfig struct {
	MaxEntries        int           `mapstructure:"max_entries"`
	BaseMaxAge        time.Duration `mapstructure:"base_max_age"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	HitWeight         time.Duration `mapstructure:"hit_weight"`
	PersistSampleRate float64       `mapstructure:"persist_sample_rate"`
}

// GeneratorConfig is optional: with no base URL the resolve endpoint only
// serves cached messages.
type GeneratorConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 64<<10)

	v.SetDefault("store.backend", store.BackendMemory)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.prefix", "contextcache:")
	v.SetDefault("store.sqlite_path", "contextcache.db")
	v.SetDefault("store.op_timeout", "2s")

	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)
	v.SetDefault("cache.base_max_age", cache.DefaultBaseMaxAge.String())
	v.SetDefault("cache.cleanup_interval", cache.DefaultCleanupInterval.String())
	v.SetDefault("cache.hit_weight", cache.DefaultHitWeight.String())
	v.SetDefault("cache.persist_sample_rate", cache.DefaultPersistSampleRate)

	v.SetDefault("generator.base_url", "")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.timeout", "10s")
	v.SetDefault("generator.max_retries", 2)
	v.SetDefault("generator.base_backoff", "100ms")
	v.SetDefault("generator.max_backoff", "5s")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		// defaults are constants; failing here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads path (when non-empty) and the environment over the defaults.
// CONTEXTCACHE_STORE_BACKEND overrides store.backend, and so on.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case store.BackendMemory, store.BackendRedis, store.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be memory, redis or sqlite", c.Store.Backend))
	}
	if c.Store.Backend == store.BackendRedis && c.Store.RedisAddr == "" {
		errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
	}
	if c.Store.Backend == store.BackendSQLite && c.Store.SQLitePath == "" {
		errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if err := c.CacheOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StoreOptions maps the store section onto store.Config.
func (c *Config) StoreOptions() store.Config {
	return store.Config{
		Backend:    c.Store.Backend,
		RedisAddr:  c.Store.RedisAddr,
		Prefix:     c.Store.Prefix,
		SQLitePath: c.Store.SQLitePath,
		OpTimeout:  c.Store.OpTimeout,
	}
}

// CacheOptions maps the cache section onto cache.Config.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		MaxEntries:        c.Cache.MaxEntries,
		BaseMaxAge:        c.Cache.BaseMaxAge,
		CleanupInterval:   c.Cache.CleanupInterval,
		HitWeight:         c.Cache.HitWeight,
		PersistSampleRate: c.Cache.PersistSampleRate,
	}
}

// GeneratorOptions maps the generator section onto generator.Config. ok is
// false when no generator is configured.
func (c *Config) GeneratorOptions() (cfg generator.Config, ok bool) {
	if c.Generator.BaseURL == "" {
		return generator.Config{}, false
	}
	return generator.Config{
		BaseURL:     c.Generator.BaseURL,
		APIKey:      c.Generator.APIKey,
		Timeout:     c.Generator.Timeout,
		MaxRetries:  c.Generator.MaxRetries,
		BaseBackoff: c.Generator.BaseBackoff,
		MaxBackoff:  c.Generator.MaxBackoff,
	}, true
}
