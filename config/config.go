/*
Package config loads service configuration.

SOURCES (later wins):
  1. Defaults below
  2. YAML file given with -config (optional)
  3. Environment, prefix BRANCH_, dots become underscores:
       BRANCH_SERVER_PORT=9090
       BRANCH_BACKEND_BASE_URL=https://api.school.example

EXAMPLE FILE:
  server:
    port: 8080
    allowed_origins: ["http://localhost:5173"]
  backend:
    base_url: https://api.school.example
  fetch:
    timeout: 8s
    ttl:
      staff_list: 2m
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Backend   BackendConfig
	Assets    AssetConfig
	Fetch     FetchConfig
	Dashboard DashboardConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Path string
}

type BackendConfig struct {
	BaseURL string
}

type AssetConfig struct {
	BaseOrigin string
	DefaultDir string
}

// FetchConfig bounds every upstream call.
type FetchConfig struct {
	Timeout       time.Duration
	MaxBackground time.Duration
	// TTL per logical cache key; keys not listed use DefaultTTL.
	TTL        map[string]time.Duration
	DefaultTTL time.Duration
}

// TTLFor returns the freshness window of key.
func (fc FetchConfig) TTLFor(key string) time.Duration {
	if d, ok := fc.TTL[key]; ok {
		return d
	}
	return fc.DefaultTTL
}

type DashboardConfig struct {
	RefreshInterval time.Duration
}

type LoggingConfig struct {
	Level         string
	Format        string
	IncludeCaller bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.path", "branch-ledger.db")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("assets.base_origin", "http://localhost:8000")
	v.SetDefault("assets.default_dir", "uploads/photos")
	v.SetDefault("fetch.timeout", "8s")
	v.SetDefault("fetch.max_background", "30s")
	v.SetDefault("fetch.default_ttl", "1m")
	v.SetDefault("fetch.ttl", map[string]string{
		"dashboard_stats": "30s",
		"staff_list":      "5m",
		"student_list":    "5m",
	})
	v.SetDefault("dashboard.refresh_interval", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.include_caller", false)
}

// Load reads configuration. An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BRANCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database:  DatabaseConfig{Path: v.GetString("database.path")},
		Backend:   BackendConfig{BaseURL: v.GetString("backend.base_url")},
		Assets:    AssetConfig{BaseOrigin: v.GetString("assets.base_origin"), DefaultDir: v.GetString("assets.default_dir")},
		Dashboard: DashboardConfig{RefreshInterval: v.GetDuration("dashboard.refresh_interval")},
		Fetch: FetchConfig{
			Timeout:       v.GetDuration("fetch.timeout"),
			MaxBackground: v.GetDuration("fetch.max_background"),
			DefaultTTL:    v.GetDuration("fetch.default_ttl"),
			TTL:           make(map[string]time.Duration),
		},
		Logging: LoggingConfig{
			Level:         v.GetString("logging.level"),
			Format:        v.GetString("logging.format"),
			IncludeCaller: v.GetBool("logging.include_caller"),
		},
	}
	for key, raw := range v.GetStringMapString("fetch.ttl") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("fetch.ttl.%s: %w", key, err)
		}
		cfg.Fetch.TTL[key] = d
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Fetch.Timeout < 0 || c.Fetch.MaxBackground <= 0 {
		errs = append(errs, errors.New("fetch timeouts must be positive"))
	}
	return errors.Join(errs...)
}
