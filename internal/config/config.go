// Package config loads settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string of the Pentaho repository
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	Carte      CarteConfig
	Repository RepositoryConfig
	Monitor    MonitorConfig
	Schedule   ScheduleConfig

	// How often the worker reloads the catalog in the background
	CatalogRefreshInterval time.Duration

	// Bearer token required on API calls; empty disables auth
	APIToken string

	// Per-client request rate limit
	RateLimit      float64
	RateLimitBurst int

	// Start with changes refused until an operator unfreezes
	StartFrozen bool

	// OTLP/gRPC collector address
	OTELEndpoint string
	// Share of root traces kept, in (0, 1]
	OTELSampleRatio float64

	Log LogConfig
}

// CarteConfig locates the Carte server.
type CarteConfig struct {
	URL      string
	User     string
	Password string
}

// RepositoryConfig names the Kettle repository Carte loads artifacts from.
type RepositoryConfig struct {
	Name     string
	User     string
	Password string
}

type MonitorConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	MaxPolls     int
}

type ScheduleConfig struct {
	Tick      time.Duration
	Grace     time.Duration
	Workers   int
	QueueSize int
	Location  *time.Location
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// bareEnv lists keys that are also read from unprefixed variables, for
// compatibility with common deployment conventions.
var bareEnv = map[string]string{
	"database_url":   "DATABASE_URL",
	"http_port":      "PORT",
	"carte.url":      "CARTE_URL",
	"carte.user":     "CARTE_USER",
	"carte.password": "CARTE_PASSWORD",
	"otel_endpoint":  "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("monitor.poll_interval", "3s")
	v.SetDefault("monitor.max_wait", "6h")
	v.SetDefault("monitor.max_polls", 0)
	v.SetDefault("schedule.tick", "1s")
	v.SetDefault("schedule.grace", "60s")
	v.SetDefault("schedule.workers", 4)
	v.SetDefault("schedule.queue_size", 64)
	v.SetDefault("schedule.location", "Local")
	v.SetDefault("catalog.refresh_interval", "10m")
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("start_frozen", false)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("otel_sample_ratio", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from path (optional) and the environment.
// Environment variables take precedence over the file. Every key can be set
// as KETTLEPLANE_<KEY> with dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KETTLEPLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range bareEnv {
		prefixed := "KETTLEPLANE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		HTTPPort:    v.GetInt("http_port"),
		Carte: CarteConfig{
			URL:      v.GetString("carte.url"),
			User:     v.GetString("carte.user"),
			Password: v.GetString("carte.password"),
		},
		Repository: RepositoryConfig{
			Name:     v.GetString("repository.name"),
			User:     v.GetString("repository.user"),
			Password: v.GetString("repository.password"),
		},
		Monitor: MonitorConfig{
			PollInterval: v.GetDuration("monitor.poll_interval"),
			MaxWait:      v.GetDuration("monitor.max_wait"),
			MaxPolls:     v.GetInt("monitor.max_polls"),
		},
		Schedule: ScheduleConfig{
			Tick:      v.GetDuration("schedule.tick"),
			Grace:     v.GetDuration("schedule.grace"),
			Workers:   v.GetInt("schedule.workers"),
			QueueSize: v.GetInt("schedule.queue_size"),
		},
		CatalogRefreshInterval: v.GetDuration("catalog.refresh_interval"),
		APIToken:               v.GetString("api_token"),
		RateLimit:              v.GetFloat64("rate_limit"),
		RateLimitBurst:         v.GetInt("rate_limit_burst"),
		StartFrozen:            v.GetBool("start_frozen"),
		OTELEndpoint:           v.GetString("otel_endpoint"),
		OTELSampleRatio:        v.GetFloat64("otel_sample_ratio"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
	}

	loc, err := time.LoadLocation(v.GetString("schedule.location"))
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.location: %w", err)
	}
	cfg.Schedule.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	if c.Carte.URL == "" {
		return errors.New("carte.url is required (env: CARTE_URL)")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.Monitor.PollInterval <= 0 {
		return errors.New("monitor.poll_interval must be positive")
	}
	if c.Monitor.MaxPolls < 0 {
		return errors.New("monitor.max_polls must not be negative")
	}
	if c.Schedule.Tick <= 0 || c.Schedule.Grace <= 0 {
		return errors.New("schedule.tick and schedule.grace must be positive")
	}
	if c.Schedule.Workers < 1 || c.Schedule.QueueSize < 1 {
		return errors.New("schedule.workers and schedule.queue_size must be at least 1")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q (want json or console)", c.Log.Format)
	}
	return nil
}
