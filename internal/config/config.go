package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	RedisURL     string `env:"REDIS_URL,required"`
	ServerOrigin string `env:"SERVER_ORIGIN" envDefault:"http://localhost:8080"`

	QRTokenTTLSeconds              int `env:"QR_TOKEN_TTL_SECONDS" envDefault:"300"`
	SessionCreationTokenTTLSeconds int `env:"SESSION_CREATION_TOKEN_TTL_SECONDS" envDefault:"300"`
	SessionTTLSeconds              int `env:"SESSION_TTL_SECONDS" envDefault:"2592000"`

	QRRateLimit              int `env:"QR_RATE_LIMIT" envDefault:"10"`
	QRRateLimitWindowSeconds int `env:"QR_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) QRTokenTTL() time.Duration {
	return time.Duration(c.QRTokenTTLSeconds) * time.Second
}

func (c *Config) SessionCreationTokenTTL() time.Duration {
	return time.Duration(c.SessionCreationTokenTTLSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) QRRateLimitWindow() time.Duration {
	return time.Duration(c.QRRateLimitWindowSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.QRTokenTTL() < MinQRTokenTTL || c.QRTokenTTL() > MaxQRTokenTTL {
		return fmt.Errorf("QR_TOKEN_TTL_SECONDS must be between %d and %d",
			int(MinQRTokenTTL.Seconds()), int(MaxQRTokenTTL.Seconds()))
	}
	if c.SessionCreationTokenTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_CREATION_TOKEN_TTL_SECONDS must be positive")
	}
	if c.QRRateLimit <= 0 || c.QRRateLimitWindowSeconds <= 0 {
		return fmt.Errorf("QR_RATE_LIMIT and QR_RATE_LIMIT_WINDOW_SECONDS must be positive")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !strings.HasPrefix(c.ServerOrigin, "https://") {
			log.Warn().Msg("SERVER_ORIGIN is not https in production: scanned QR payloads will point clients at an insecure origin")
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
