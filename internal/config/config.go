package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type AppConfig struct {
	Addr string `envconfig:"RELAY_ADDR" default:":8080" validate:"required"`

	// InitialFEN overrides the standard start position.
	InitialFEN string `envconfig:"RELAY_INITIAL_FEN"`

	RejectNotices bool          `envconfig:"RELAY_REJECT_NOTICES" default:"true"`
	IdleTimeout   time.Duration `envconfig:"RELAY_IDLE_TIMEOUT" default:"0s"`
	PingInterval  time.Duration `envconfig:"RELAY_PING_INTERVAL" default:"30s"`
	WriteTimeout  time.Duration `envconfig:"RELAY_WRITE_TIMEOUT" default:"5s"`
	OutboxSize    int           `envconfig:"RELAY_OUTBOX_SIZE" default:"32" validate:"min=4,max=4096"`

	AllowedOrigins []string `envconfig:"RELAY_ALLOWED_ORIGINS"`
	AdminToken     string   `envconfig:"RELAY_ADMIN_TOKEN"`

	RedisURL    string `envconfig:"REDIS_URL" validate:"omitempty,url"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	WebhookURL  string `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	MessagesDir string `envconfig:"MESSAGES_DIR"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.IdleTimeout < 0 || cfg.PingInterval < 0 || cfg.WriteTimeout < 0 {
		return nil, errors.New("invalid config: durations must not be negative")
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.Addr = strings.TrimSpace(c.Addr)
	c.InitialFEN = strings.TrimSpace(c.InitialFEN)
	c.AdminToken = strings.TrimSpace(c.AdminToken)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.WebhookURL = strings.TrimSpace(c.WebhookURL)
	c.MessagesDir = strings.TrimSpace(c.MessagesDir)

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.AllowedOrigins = origins
}
