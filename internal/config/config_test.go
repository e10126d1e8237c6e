package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Equal(t, 200, cfg.Search.FanoutLimit)
	assert.Equal(t, 300*time.Millisecond, cfg.Search.RetrieverTimeout)
	assert.Equal(t, 2*time.Second, cfg.Search.RequestTimeout)
	assert.Equal(t, WeightsConfig{Tag: 0.5, Lexical: 0.25, Vector: 0.25}, cfg.Search.Weights)
	assert.Equal(t, 0.5, cfg.Search.DomainBonus)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 16, cfg.Cache.Shards)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bookmarks.yaml")
	yaml := `
search:
  default_limit: 10
  weights:
    tag: 0.6
    lexical: 0.2
    vector: 0.2
cache:
  ttl: 1m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("BOOKMARKS_SEARCH_MAX_LIMIT", "50")
	t.Setenv("BOOKMARKS_EMBEDDING_PROVIDER", "ollama")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 50, cfg.Search.MaxLimit)
	assert.Equal(t, 0.6, cfg.Search.Weights.Tag)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	// Untouched keys keep defaults
	assert.Equal(t, 200, cfg.Search.FanoutLimit)
}

func TestLoadMissingDefaultFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("BOOKMARKS_SEARCH_FANOUT_LIMIT", "50")

	dir := t.TempDir()
	path := filepath.Join(dir, "bookmarks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "fanout_limit")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "oracle" }, "unknown storage driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "postgres_dsn"},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.PostgresDSN = "postgres://localhost/bookmarks"
		}, ""},
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }, "default_limit"},
		{"max below default", func(c *Config) { c.Search.MaxLimit = 10 }, "max_limit"},
		{"fanout not above max", func(c *Config) { c.Search.FanoutLimit = 100 }, "fanout_limit"},
		{"negative weight", func(c *Config) { c.Search.Weights.Vector = -1 }, "negative"},
		{"zero weights", func(c *Config) { c.Search.Weights = WeightsConfig{} }, "positive sum"},
		{"zero retriever timeout", func(c *Config) { c.Search.RetrieverTimeout = 0 }, "timeouts"},
		{"negative bonus", func(c *Config) { c.Search.DomainBonus = -0.1 }, "domain_bonus"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "ttl"},
		{"no cache ignores ttl", func(c *Config) {
			c.Cache.Backend = BackendNone
			c.Cache.TTL = 0
		}, ""},
		{"redis cache with memory versions", func(c *Config) { c.Cache.Backend = BackendRedis }, "redis versions"},
		{"redis cache with redis versions", func(c *Config) {
			c.Cache.Backend = BackendRedis
			c.Versions.Backend = BackendRedis
		}, ""},
		{"redis without addr", func(c *Config) {
			c.Versions.Backend = BackendRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "unknown cache backend"},
		{"unknown versions backend", func(c *Config) { c.Versions.Backend = "etcd" }, "unknown versions backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
