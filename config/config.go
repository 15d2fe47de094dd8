// Package config loads the offline-cache configuration
// from a YAML file overlaid by OFFLINECACHE_* environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/notification"
	"github.com/always-cache/offline-cache/pkg/policy"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	DefaultFilename = "offline-cache.yml"
	envPrefix       = "OFFLINECACHE_"
)

// Config is the offline-cache configuration, corresponding to offline-cache.yml.
type Config struct {
	Listen        string `yaml:"listen" koanf:"listen" validate:"required"`
	ControlListen string `yaml:"control_listen" koanf:"control_listen"`
	Origin        string `yaml:"origin" koanf:"origin" validate:"required,url"`
	OriginHost    string `yaml:"origin_host" koanf:"origin_host" validate:"omitempty,hostname_port|hostname"`

	Storage     StorageConfig     `yaml:"storage" koanf:"storage"`
	Queue       StorageConfig     `yaml:"queue" koanf:"queue"`
	Versions    VersionsConfig    `yaml:"versions" koanf:"versions"`
	CachePrefix CachePrefixConfig `yaml:"cache_prefix" koanf:"cache_prefix"`

	Manifest    []string     `yaml:"manifest" koanf:"manifest" validate:"dive,startswith=/"`
	Rules       policy.Rules `yaml:"rules" koanf:"rules"`
	OfflinePage string       `yaml:"offline_page" koanf:"offline_page" validate:"required,startswith=/"`

	// Name reported in a Cache-Status response header, none is added if empty.
	CacheStatus string `yaml:"cache_status,omitempty" koanf:"cache_status" validate:"omitempty,excludesall=;0x2C"`

	Sync         SyncConfig           `yaml:"sync" koanf:"sync"`
	PeriodicSync PeriodicSyncConfig   `yaml:"periodic_sync" koanf:"periodic_sync"`
	Notification notification.Options `yaml:"notification" koanf:"notification"`

	Log          LogConfig     `yaml:"log" koanf:"log"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" koanf:"fetch_timeout" validate:"min=0"`
}

type StorageConfig struct {
	Provider string `yaml:"provider" koanf:"provider" validate:"required,oneof=sqlite leveldb memory"`
	Path     string `yaml:"path" koanf:"path"`
}

type VersionsConfig struct {
	Static  string `yaml:"static" koanf:"static" validate:"required"`
	Dynamic string `yaml:"dynamic" koanf:"dynamic" validate:"required"`
}

type CachePrefixConfig struct {
	Static  string `yaml:"static" koanf:"static" validate:"required,nefield=Dynamic"`
	Dynamic string `yaml:"dynamic" koanf:"dynamic" validate:"required"`
}

type SyncConfig struct {
	Tag string `yaml:"tag" koanf:"tag" validate:"required"`
	URL string `yaml:"url" koanf:"url" validate:"required,startswith=/"`
}

type PeriodicSyncConfig struct {
	Tag      string        `yaml:"tag" koanf:"tag" validate:"required"`
	Interval time.Duration `yaml:"interval" koanf:"interval" validate:"min=0"`
}

type LogConfig struct {
	Level string `yaml:"level" koanf:"level" validate:"required,oneof=trace debug info warn error"`
	File  string `yaml:"file" koanf:"file"`
}

// DefaultConfig returns the configuration used for everything not set in the file or environment.
// Manifest and Rules are left empty here, see applyDefaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        ":8080",
		ControlListen: "127.0.0.1:8081",
		Storage: StorageConfig{
			Provider: "sqlite",
			Path:     "offline-cache.db",
		},
		Queue: StorageConfig{
			Provider: "sqlite",
		},
		Versions: VersionsConfig{
			Static:  "v1",
			Dynamic: "v1",
		},
		CachePrefix: CachePrefixConfig{
			Static:  "static",
			Dynamic: "dynamic",
		},
		OfflinePage: "/offline/",
		Sync: SyncConfig{
			Tag: "contact-form",
			URL: "/contact/",
		},
		PeriodicSync: PeriodicSyncConfig{
			Tag:      "cache-update",
			Interval: 12 * time.Hour,
		},
		Notification: notification.Options{
			Icon:  "/static/images/apple-touch-icon.png",
			Badge: "/static/images/apple-touch-icon.png",
		},
		Log: LogConfig{
			Level: "debug",
		},
	}
}

// Load reads configuration from the given YAML file, if it exists,
// then overlays environment variable overrides:
// OFFLINECACHE_ORIGIN -> origin, OFFLINECACHE_STORAGE__PATH -> storage.path, etc.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// applyDefaults fills in the list defaults.
// Lists are not part of DefaultConfig because unmarshalling
// would merge a configured list into the default one.
func (c *Config) applyDefaults() {
	if c.Manifest == nil {
		c.Manifest = append([]string{}, offlinecache.DefaultManifest...)
	}
	if c.Rules == nil {
		c.Rules = policy.DefaultRules()
	}
	for i := range c.Rules {
		if c.Rules[i].Kind == "" {
			c.Rules[i].Kind = policy.MatchPrefix
		}
	}
	if c.Queue.Path == "" && c.Queue.Provider == "sqlite" {
		if c.Storage.Provider == "sqlite" {
			c.Queue.Path = c.Storage.Path
		} else {
			c.Queue.Path = "offline-cache-queue.db"
		}
	}
}

var validate = validator.New()

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}
	if c.Queue.Provider == "leveldb" {
		return fmt.Errorf("queue.provider: leveldb is not supported for the queue")
	}
	return nil
}

// OriginURL parses the origin. Origins with paths are not supported.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin: unsupported scheme %q", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("origin: paths are not supported (%s)", u.Path)
	}
	return u, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	return data, nil
}
