package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	TokenSecret string `env:"TOKEN_SECRET,required"`
	// StoreBackend selects where sessions, rate counters and locations live.
	// "memory" is single-process only; "redis" is required when running more
	// than one instance.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	GlobalRateLimitPerMin  int `env:"GLOBAL_RATE_LIMIT_PER_MIN" envDefault:"60"`
	LocationUpdatesPerSec  int `env:"LOCATION_UPDATES_PER_SEC" envDefault:"1"`
	SessionTTLHours        int `env:"SESSION_TTL_HOURS" envDefault:"24"`
	LocationStalenessMins  int `env:"LOCATION_STALENESS_MINS" envDefault:"5"`
	CoordinateMirrorSecs   int `env:"COORDINATE_MIRROR_SECS" envDefault:"30"`
	SessionCreatesPerMinIP int `env:"SESSION_CREATES_PER_MIN_IP" envDefault:"10"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) LocationStaleness() time.Duration {
	return time.Duration(c.LocationStalenessMins) * time.Minute
}

func (c *Config) CoordinateMirrorInterval() time.Duration {
	return time.Duration(c.CoordinateMirrorSecs) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("STORE_BACKEND must be \"memory\" or \"redis\", got %q", c.StoreBackend)
	}

	if isProduction {
		if err := validateSecret("TOKEN_SECRET", c.TokenSecret); err != nil {
			return err
		}
		if c.StoreBackend == "memory" {
			log.Warn().Msg("STORE_BACKEND=memory in production: sessions and rate counters are not shared across instances")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
