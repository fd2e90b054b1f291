package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	Env         string            `mapstructure:"env"`
	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`
	Server      ServerConfig      `mapstructure:"server"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Middleware  map[string]any    `mapstructure:"middleware"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Origin          string        `mapstructure:"origin"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type FetchConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type MaintenanceConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type StorageConfig struct {
	PostgresURL         string        `mapstructure:"postgres_url"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	RedisPassword       string        `mapstructure:"redis_password"`
	RedisDB             int           `mapstructure:"redis_db"`
	RecorderConcurrency int           `mapstructure:"recorder_concurrency"`
	FailureTTL          time.Duration `mapstructure:"failure_ttl"`
}

// Load reads configuration from an optional YAML file and PAGEJSON_*
// environment variables. A missing file is not an error; configuration can
// come purely from the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix("pagejson")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "production")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.origin", "")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("maintenance.sweep_interval", time.Minute)
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.recorder_concurrency", 16)
	v.SetDefault("storage.failure_ttl", 24*time.Hour)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Middleware == nil {
		cfg.Middleware = map[string]any{}
	}
	if cfg.Server.Origin != "" {
		cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
		u, err := url.Parse(cfg.Server.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("server.origin must be an absolute URL, got %q", cfg.Server.Origin)
		}
	}
	return &cfg, nil
}

// Options validates the middleware section into the canonical Options.
func (c *Config) Options() (*Options, error) {
	return ValidateOptions(c.Middleware)
}

// OriginURL returns the parsed origin, or nil when requests should be fetched
// from the host they arrived on.
func (c *Config) OriginURL() *url.URL {
	if c.Server.Origin == "" {
		return nil
	}
	u, _ := url.Parse(c.Server.Origin)
	return u
}
