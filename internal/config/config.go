// Package config provides configuration management for the bookmarks service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BOOKMARKS_CACHE_TTL
const EnvPrefix = "BOOKMARKS"

// Config holds all configuration for the bookmarks service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Versions  VersionsConfig  `mapstructure:"versions"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// StorageConfig selects and configures the datastore.
type StorageConfig struct {
	Driver           string `mapstructure:"driver"`
	SQLitePath       string `mapstructure:"sqlite_path"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	BatchSize int           `mapstructure:"batch_size"`
}

// WeightsConfig holds per-source fusion weights.
type WeightsConfig struct {
	Tag     float64 `mapstructure:"tag"`
	Lexical float64 `mapstructure:"lexical"`
	Vector  float64 `mapstructure:"vector"`
}

// SearchConfig holds retrieval policy.
type SearchConfig struct {
	DefaultLimit     int           `mapstructure:"default_limit"`
	MaxLimit         int           `mapstructure:"max_limit"`
	FanoutLimit      int           `mapstructure:"fanout_limit"`
	RetrieverTimeout time.Duration `mapstructure:"retriever_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	Weights          WeightsConfig `mapstructure:"weights"`
	DomainBonus      float64       `mapstructure:"domain_bonus"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	Shards     int           `mapstructure:"shards"`
}

// VersionsConfig selects where per-user corpus versions live.
type VersionsConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Backend and driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Load reads configuration from an optional YAML file and environment
// variables. An empty path searches ./bookmarks.yaml and
// $HOME/.config/bookmarks/bookmarks.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bookmarks")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/bookmarks")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration Load produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static and always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit_rps", 100.0)
	v.SetDefault("server.rate_limit_burst", 50)

	// Storage defaults
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "bookmarks.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.postgres_max_conns", 10)

	// Embedding defaults
	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.timeout", "300ms")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.batch_size", 50)

	// Search defaults
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.fanout_limit", 200)
	v.SetDefault("search.retriever_timeout", "300ms")
	v.SetDefault("search.request_timeout", "2s")
	v.SetDefault("search.weights.tag", 0.5)
	v.SetDefault("search.weights.lexical", 0.25)
	v.SetDefault("search.weights.vector", 0.25)
	v.SetDefault("search.domain_bonus", 0.5)

	// Cache defaults
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.shards", 16)

	v.SetDefault("versions.backend", BackendMemory)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "bookmarks:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("embedding timeout must be positive")
	}

	if err := c.Search.Validate(); err != nil {
		return err
	}

	switch c.Cache.Backend {
	case BackendMemory, BackendNone:
	case BackendRedis:
		if c.Versions.Backend != BackendRedis {
			return fmt.Errorf("a redis cache requires redis versions")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend != BackendNone {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
		if c.Cache.Backend == BackendMemory && (c.Cache.MaxEntries <= 0 || c.Cache.Shards <= 0) {
			return fmt.Errorf("cache max_entries and shards must be positive")
		}
	}

	switch c.Versions.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown versions backend %q", c.Versions.Backend)
	}

	if (c.Cache.Backend == BackendRedis || c.Versions.Backend == BackendRedis) && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis backend is selected")
	}

	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}

	return nil
}

// Validate checks retrieval policy values.
func (s SearchConfig) Validate() error {
	if s.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive")
	}
	if s.MaxLimit < s.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be at least default_limit (%d)", s.MaxLimit, s.DefaultLimit)
	}
	if s.FanoutLimit <= s.MaxLimit {
		return fmt.Errorf("search.fanout_limit (%d) must exceed max_limit (%d)", s.FanoutLimit, s.MaxLimit)
	}
	if s.RetrieverTimeout <= 0 || s.RequestTimeout <= 0 {
		return fmt.Errorf("search timeouts must be positive")
	}
	w := s.Weights
	if w.Tag < 0 || w.Lexical < 0 || w.Vector < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	if w.Tag+w.Lexical+w.Vector <= 0 {
		return fmt.Errorf("search weights must have a positive sum")
	}
	if s.DomainBonus < 0 {
		return fmt.Errorf("search.domain_bonus must not be negative")
	}
	return nil
}
