package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL,required"`
	APIToken    string `env:"API_TOKEN"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Tenant session data (pairing credentials, browser profile) lives under
	// AuthDataPath/<clientID> so organizations never share a profile.
	AuthDataPath string `env:"AUTH_DATA_PATH" envDefault:"./.wa_auth"`

	// QR payloads are also rendered to the server terminal when true,
	// which is how operators pair a tenant without the web UI.
	RenderQRToTerminal bool `env:"RENDER_QR_TERMINAL" envDefault:"true"`

	ArchiveRetentionDays int `env:"ARCHIVE_RETENTION_DAYS" envDefault:"30"`
	SendRateLimitPerMin  int `env:"SEND_RATE_LIMIT_PER_MIN" envDefault:"60"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ArchiveRetention() time.Duration {
	return time.Duration(c.ArchiveRetentionDays) * 24 * time.Hour
}

// ArchiveEnabled reports whether a Postgres message archive is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
