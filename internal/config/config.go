// Package config loads pdca settings from flags, PDCA_* environment
// variables and an optional pdca.yaml or pdca.toml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdcadash/pdca/internal/auth"
	"github.com/pdcadash/pdca/internal/docstore"
)

// EnvPrefix is the prefix of environment overrides (PDCA_STORE_BACKEND, ...).
const EnvPrefix = "PDCA"

// Config holds the whole pdca configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Rebuild RebuildConfig `mapstructure:"rebuild"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Demo    DemoConfig    `mapstructure:"demo"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend string        `mapstructure:"backend"` // fs, s3, sqlite or memory
	Root    string        `mapstructure:"root"`    // folder holding clients.json
	Timeout time.Duration `mapstructure:"timeout"`
	FS      FSConfig      `mapstructure:"fs"`
	S3      S3Config      `mapstructure:"s3"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

type FSConfig struct {
	Path string `mapstructure:"path"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RetryConfig bounds retries of failed store calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

type RebuildConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// CacheConfig enables the Redis master-data cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DemoConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig lists the accepted tokens. With no tokens every caller is
// allowed.
type AuthConfig struct {
	Token  string        `mapstructure:"token"`
	Tokens []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig maps one token to a principal.
type TokenConfig struct {
	Token   string   `mapstructure:"token"`
	Subject string   `mapstructure:"subject"`
	Role    string   `mapstructure:"role"`
	Clients []string `mapstructure:"clients"`
}

// LogConfig enables a rotating log file when File is set.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	policy := docstore.DefaultPolicy()

	v.SetDefault("store.backend", "fs")
	v.SetDefault("store.root", "")
	v.SetDefault("store.timeout", policy.Timeout)
	v.SetDefault("store.fs.path", defaultDataDir())
	v.SetDefault("store.sqlite.path", filepath.Join(defaultDataDir(), "pdca.db"))
	v.SetDefault("store.s3.use_ssl", true)
	v.SetDefault("store.retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("store.retry.initial_wait", policy.InitialWait)
	v.SetDefault("store.retry.max_wait", policy.MaxWait)
	v.SetDefault("rebuild.concurrency", 4)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("demo.enabled", false)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("watch.debounce", 2*time.Second)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pdca-data"
	}
	return filepath.Join(home, ".local", "share", "pdca")
}

// New returns a viper instance with defaults, PDCA_* environment binding
// and the config search path set. cfgFile, when set, replaces the search.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pdca")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pdca"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadInConfig reads the config file if there is one. A missing file is not
// an error when no file was named explicitly.
func ReadInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks settings that would only fail later at runtime.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "fs":
		if c.Store.FS.Path == "" {
			return fmt.Errorf("store.fs.path is required for the fs backend")
		}
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
	case "s3":
		if c.Store.S3.Endpoint == "" || c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.endpoint and store.s3.bucket are required for the s3 backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend %q (want fs, s3, sqlite or memory)", c.Store.Backend)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive (got %v)", c.Store.Timeout)
	}
	if c.Store.Retry.MaxAttempts < 1 {
		return fmt.Errorf("store.retry.max_attempts must be at least 1 (got %d)", c.Store.Retry.MaxAttempts)
	}
	if c.Rebuild.Concurrency < 1 {
		return fmt.Errorf("rebuild.concurrency must be positive (got %d)", c.Rebuild.Concurrency)
	}
	if c.Cache.RedisURL != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive (got %v)", c.Cache.TTL)
	}
	seen := make(map[string]bool, len(c.Auth.Tokens))
	for i, t := range c.Auth.Tokens {
		if t.Token == "" {
			return fmt.Errorf("auth.tokens[%d]: token is required", i)
		}
		if seen[t.Token] {
			return fmt.Errorf("auth.tokens[%d]: duplicate token", i)
		}
		seen[t.Token] = true
		switch auth.Role(t.Role) {
		case auth.RoleViewer, auth.RoleEditor, auth.RoleAdmin:
		default:
			return fmt.Errorf("auth.tokens[%d]: unknown role %q", i, t.Role)
		}
	}
	return nil
}

// StoreOptions returns the backend options of the configured store.
func (c Config) StoreOptions() docstore.Options {
	opts := docstore.Options{Timeout: c.Store.Timeout}
	switch c.Store.Backend {
	case "fs":
		opts.Path = c.Store.FS.Path
	case "sqlite":
		opts.Path = c.Store.SQLite.Path
	case "s3":
		opts.Endpoint = c.Store.S3.Endpoint
		opts.AccessKey = c.Store.S3.AccessKey
		opts.SecretKey = c.Store.S3.SecretKey
		opts.Bucket = c.Store.S3.Bucket
		opts.Prefix = c.Store.S3.Prefix
		opts.Region = c.Store.S3.Region
		opts.UseSSL = c.Store.S3.UseSSL
	}
	return opts
}

// Policy returns the per-call store policy.
func (c Config) Policy() docstore.Policy {
	return docstore.Policy{
		Timeout:     c.Store.Timeout,
		MaxAttempts: c.Store.Retry.MaxAttempts,
		InitialWait: c.Store.Retry.InitialWait,
		MaxWait:     c.Store.Retry.MaxWait,
	}
}

// Authorizer returns a static token policy, or nil when no tokens are
// configured.
func (c Config) Authorizer() *auth.StaticPolicy {
	if len(c.Auth.Tokens) == 0 {
		return nil
	}
	tokens := make(map[string]auth.Principal, len(c.Auth.Tokens))
	for _, t := range c.Auth.Tokens {
		tokens[t.Token] = auth.Principal{
			Subject: t.Subject,
			Role:    auth.Normalize(t.Role),
			Clients: t.Clients,
		}
	}
	return auth.NewStaticPolicy(tokens)
}
