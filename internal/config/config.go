package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"intake.org/internal/allocation"
)

const Prefix = "INTAKE_"

type RotationOptions struct {
	Strategy   string        `env:"ROTATION_STRATEGY" envDefault:"trailing-window"`
	Window     time.Duration `env:"ROTATION_WINDOW" envDefault:"720h"`
	Timezone   string        `env:"ROTATION_TIMEZONE" envDefault:"Local"`
	PolicyFile string        `env:"POLICY_FILE"`
}

type NotifyOptions struct {
	Timeout      time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	InboxEnabled bool          `env:"INBOX_ENABLED" envDefault:"true"`
	AMQPURL      string        `env:"AMQP_URL"`
	AMQPExchange string        `env:"AMQP_EXCHANGE" envDefault:"intake.events"`
	RedisURL     string        `env:"REDIS_URL"`
	RedisChannel string        `env:"REDIS_CHANNEL" envDefault:"intake:notifications"`
}

type RateLimitOptions struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

// Validate checks the rate limit configuration for errors
func (r RateLimitOptions) Validate() error {
	if r.RPS < 0 {
		return fmt.Errorf("rate limit RPS must be non-negative, got %v", r.RPS)
	}
	if r.RPS > 0 && r.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when RPS is set, got %d", r.Burst)
	}
	return nil
}

// Config is the service configuration, read from INTAKE_* variables.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr   string `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN      string `env:"PG_DSN"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AuthSecret string `env:"AUTH_SECRET"`
	Producer   string `env:"PRODUCER" envDefault:"intake-api"`

	Rotation  RotationOptions
	Notify    NotifyOptions
	RateLimit RateLimitOptions
}

// LoadEnv loads the env files that exist and reports how many were found.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads env files (missing ones are skipped), parses INTAKE_* and validates.
func Load(envFiles ...string) (Config, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if _, err := allocation.ParseStrategy(c.Rotation.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.Rotation.Window <= 0 {
		errs = append(errs, fmt.Errorf("ROTATION_WINDOW must be positive, got %s", c.Rotation.Window))
	}
	if _, err := time.LoadLocation(c.Rotation.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("ROTATION_TIMEZONE: %w", err))
	}
	if c.Notify.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_TIMEOUT must be positive, got %s", c.Notify.Timeout))
	}
	if c.Notify.AMQPURL != "" && c.Notify.AMQPExchange == "" {
		errs = append(errs, errors.New("AMQP_EXCHANGE is required when AMQP_URL is set"))
	}
	if c.Notify.RedisURL != "" && c.Notify.RedisChannel == "" {
		errs = append(errs, errors.New("REDIS_CHANNEL is required when REDIS_URL is set"))
	}
	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Strategy returns the parsed rotation strategy.
func (c Config) Strategy() allocation.Strategy {
	s, _ := allocation.ParseStrategy(c.Rotation.Strategy)
	return s
}

// Location returns the time zone that defines a calendar day.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Rotation.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Policy returns the configured policy. A configured file replaces the
// built-in table; failing to load it is an error, never a fallback.
func (c Config) Policy() (allocation.Policy, error) {
	if c.Rotation.PolicyFile == "" {
		return allocation.DefaultPolicy(), nil
	}
	return allocation.LoadPolicy(c.Rotation.PolicyFile)
}

// EngineOptions maps the rotation settings onto engine options.
func (c Config) EngineOptions() ([]allocation.Option, error) {
	p, err := c.Policy()
	if err != nil {
		return nil, err
	}
	return []allocation.Option{
		allocation.WithPolicy(p),
		allocation.WithStrategy(c.Strategy()),
		allocation.WithWindow(c.Rotation.Window),
		allocation.WithLocation(c.Location()),
		allocation.WithNotifyTimeout(c.Notify.Timeout),
	}, nil
}
