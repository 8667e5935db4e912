package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration, loaded from environment
// variables
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GinMode  string `env:"GIN_MODE" envDefault:"release"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DataDir         string `env:"DATA_DIR" envDefault:"./data"`
	ExperimentsFile string `env:"EXPERIMENTS_FILE" envDefault:"./experiments.json"`
	RetentionDays   int    `env:"RETENTION_DAYS" envDefault:"90"`

	// Optional upstream analytics collector; empty disables the HTTP sink
	CollectorURL     string        `env:"COLLECTOR_URL"`
	CollectorTimeout time.Duration `env:"COLLECTOR_TIMEOUT" envDefault:"5s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AdminJWTSecret string `env:"ADMIN_JWT_SECRET"`

	StatsCacheTTL   time.Duration `env:"STATS_CACHE_TTL" envDefault:"5m"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"1m"`
	EnableProfiling bool          `env:"ENABLE_PROFILING" envDefault:"false"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load parses the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive, got %d", cfg.RetentionDays)
	}

	return cfg, nil
}

// RedisEnabled reports whether rate limiting should use Redis
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// CollectorEnabled reports whether the upstream HTTP sink is configured
func (c *Config) CollectorEnabled() bool {
	return c.CollectorURL != ""
}

// AdminEnabled reports whether the JWT-protected admin routes are
// configured
func (c *Config) AdminEnabled() bool {
	return c.AdminJWTSecret != ""
}
