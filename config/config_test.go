package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/policy"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline-cache.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, "sqlite", cfg.Storage.Provider)
	require.Equal(t, "offline-cache.db", cfg.Queue.Path)
	require.Equal(t, offlinecache.DefaultManifest, cfg.Manifest)
	require.Equal(t, policy.DefaultRules(), cfg.Rules)
	require.Equal(t, "contact-form", cfg.Sync.Tag)
	require.Equal(t, "cache-update", cfg.PeriodicSync.Tag)
	require.Equal(t, 12*time.Hour, cfg.PeriodicSync.Interval)

	// origin has no default
	require.Error(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
origin: https://blog.example.com
storage:
  provider: leveldb
  path: /var/lib/offline-cache
versions:
  static: v7
manifest:
  - /
  - /static/css/app.css
rules:
  - match: /admin/
    class: excluded
  - match: /media/**/*.jpg
    kind: glob
    class: static-asset
periodic_sync:
  interval: 30m
fetch_timeout: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "https://blog.example.com", cfg.Origin)
	require.Equal(t, "leveldb", cfg.Storage.Provider)
	require.Equal(t, "offline-cache-queue.db", cfg.Queue.Path)
	require.Equal(t, "v7", cfg.Versions.Static)
	require.Equal(t, "v1", cfg.Versions.Dynamic)
	require.Equal(t, []string{"/", "/static/css/app.css"}, cfg.Manifest)
	require.Equal(t, policy.Rules{
		{Match: "/admin/", Kind: policy.MatchPrefix, Class: policy.Excluded},
		{Match: "/media/**/*.jpg", Kind: policy.MatchGlob, Class: policy.StaticAsset},
	}, cfg.Rules)
	require.Equal(t, 30*time.Minute, cfg.PeriodicSync.Interval)
	require.Equal(t, 10*time.Second, cfg.FetchTimeout)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "origin: https://blog.example.com\n")
	t.Setenv("OFFLINECACHE_ORIGIN", "http://localhost:8000")
	t.Setenv("OFFLINECACHE_STORAGE__PATH", "/tmp/cache.db")
	t.Setenv("OFFLINECACHE_LOG__LEVEL", "trace")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "http://localhost:8000", cfg.Origin)
	require.Equal(t, "/tmp/cache.db", cfg.Storage.Path)
	require.Equal(t, "/tmp/cache.db", cfg.Queue.Path)
	require.Equal(t, "trace", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Origin = "https://blog.example.com"
		cfg.applyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"origin with path":     func(c *Config) { c.Origin = "https://example.com/blog" },
		"origin not a url":     func(c *Config) { c.Origin = "blog" },
		"unknown provider":     func(c *Config) { c.Storage.Provider = "redis" },
		"leveldb queue":        func(c *Config) { c.Queue.Provider = "leveldb" },
		"relative manifest":    func(c *Config) { c.Manifest = []string{"static/app.css"} },
		"same cache prefixes":  func(c *Config) { c.CachePrefix.Dynamic = "static" },
		"bad rule":             func(c *Config) { c.Rules = policy.Rules{{Match: "/x", Class: "sometimes"}} },
		"unknown log level":    func(c *Config) { c.Log.Level = "verbose" },
		"relative offlinepage": func(c *Config) { c.OfflinePage = "offline" },
		"cache status list":    func(c *Config) { c.CacheStatus = "a; hit, b" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Origin = "https://blog.example.com"
	cfg.applyDefaults()
	path := filepath.Join(t.TempDir(), "saved.yml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
