// Package config provides configuration management for OSINTForge.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/osintforge/internal/api"
	"github.com/lvonguyen/osintforge/internal/cache"
	"github.com/lvonguyen/osintforge/internal/dedupe"
	"github.com/lvonguyen/osintforge/internal/dispatch"
	"github.com/lvonguyen/osintforge/internal/normalize"
	"github.com/lvonguyen/osintforge/internal/observability"
	"github.com/lvonguyen/osintforge/internal/scoring"
	"github.com/lvonguyen/osintforge/internal/source"
	"github.com/lvonguyen/osintforge/internal/store"
)

// Config holds all OSINTForge configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Investigation dispatch.Config      `yaml:"investigation"`
	Sources       source.Config        `yaml:"sources"`
	Normalize     normalize.Config     `yaml:"normalize"`
	Dedupe        dedupe.Config        `yaml:"dedupe"`
	Scoring       scoring.Policy       `yaml:"scoring"`
	Cache         cache.Config         `yaml:"cache"`
	Redis         store.Config         `yaml:"redis"`
	Logging       LoggingConfig        `yaml:"logging"`
	Telemetry     observability.Config `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 keeps event streams open
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`

	API api.Config `yaml:",inline"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			JanitorInterval: time.Minute,
			API:             api.DefaultConfig(),
		},
		Investigation: dispatch.DefaultConfig(),
		Sources:       source.DefaultConfig(),
		Normalize:     normalize.DefaultConfig(),
		Dedupe:        dedupe.DefaultConfig(),
		Scoring:       scoring.DefaultPolicy(),
		Cache:         cache.DefaultConfig(),
		Redis:         store.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: observability.DefaultConfig(),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port %d out of range", c.Server.Port)
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")

	check(c.Investigation.RequestTimeout > 0, "investigation.request_timeout must be positive")
	check(c.Investigation.MaxConcurrentSources > 0, "investigation.max_concurrent_sources must be positive")
	check(c.Investigation.DefaultSourceTimeout > 0, "investigation.default_source_timeout must be positive")
	check(c.Investigation.RetryBackoff >= 0, "investigation.retry_backoff must not be negative")

	for name, p := range map[string]source.ProviderConfig{
		"social": c.Sources.Social.ProviderConfig,
		"breach": c.Sources.Breach.ProviderConfig,
		"domain": c.Sources.Domain,
		"face":   c.Sources.Face.ProviderConfig,
	} {
		if p.Enabled {
			check(p.BaseURL != "", "sources.%s.base_url is required when enabled", name)
		}
	}
	check(c.Sources.Face.Threshold >= 0 && c.Sources.Face.Threshold <= 1,
		"sources.face.threshold %v outside [0,1]", c.Sources.Face.Threshold)

	check(c.Dedupe.NameDistanceThreshold >= 0, "dedupe.name_distance_threshold must not be negative")
	check(c.Normalize.MaxBioLength > 0, "normalize.max_bio_length must be positive")

	check(c.Scoring.MediumThreshold > 0 && c.Scoring.MediumThreshold < c.Scoring.HighThreshold && c.Scoring.HighThreshold <= 1,
		"scoring thresholds must satisfy 0 < medium < high <= 1")
	check(c.Scoring.Privacy.BreachPenalty >= 0 && c.Scoring.Privacy.ProfessionalPenalty >= 0 && c.Scoring.Privacy.WebsitePenalty >= 0,
		"scoring.privacy penalties must not be negative")
	check(c.Scoring.Exposure.MediumBreaches <= c.Scoring.Exposure.HighBreaches && c.Scoring.Exposure.MediumPresence <= c.Scoring.Exposure.HighPresence,
		"scoring.exposure medium cut-offs must not exceed high ones")

	check(c.Cache.TTL > 0, "cache.ttl must be positive")
	check(c.Cache.Capacity >= 0, "cache.capacity must not be negative")

	if c.Redis.Enabled {
		check(c.Redis.Addr != "", "redis.addr is required when enabled")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("logging.level: %w", err))
	}
	check(c.Logging.Format == "json" || c.Logging.Format == "console",
		"logging.format %q must be json or console", c.Logging.Format)

	return errs
}

// EnabledSources returns the names of enabled adapters.
func (c *Config) EnabledSources() []string {
	return c.Sources.Enabled()
}
