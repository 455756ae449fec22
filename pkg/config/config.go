// Package config holds the environment driven process settings.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ConfigPath            string        `env:"HERMES_CONFIG_PATH" envDefault:"config.toml" validate:"required"`
	BindAddress           string        `env:"HERMES_BIND_ADDRESS" envDefault:"0.0.0.0" validate:"required,ip|hostname"`
	Port                  int           `env:"HERMES_PORT" envDefault:"3000" validate:"min=1,max=65535"`
	LogLevel              string        `env:"HERMES_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat             string        `env:"HERMES_LOG_FORMAT" envDefault:"json" validate:"oneof=json pretty"`
	LogDir                string        `env:"HERMES_LOG_DIR" envDefault:"log"`
	RequestTimeout        time.Duration `env:"HERMES_REQUEST_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	RequestDeadline       time.Duration `env:"HERMES_REQUEST_DEADLINE" envDefault:"60s" validate:"gt=0"`
	MaxConcurrentRequests int           `env:"HERMES_MAX_CONCURRENT_REQUESTS" envDefault:"1000" validate:"min=1"`
	HealthCheckEnabled    bool          `env:"HERMES_HEALTH_CHECK_ENABLED" envDefault:"true"`
	ShutdownGrace         time.Duration `env:"HERMES_SHUTDOWN_GRACE" envDefault:"10s" validate:"gte=0"`
	MaxBodyBytes          int64         `env:"HERMES_MAX_BODY_BYTES" envDefault:"1048576" validate:"min=1"`
	TracingExporter       string        `env:"HERMES_TRACING_EXPORTER" envDefault:"none" validate:"oneof=none stdout"`
	TLSCert               string        `env:"SSL_SERVER_CERTIFICATE"`
	TLSKey                string        `env:"SSL_SERVER_KEY"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load parses and validates the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid env config: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// TLSEnabled reports whether both certificate files exist.
func (c *Config) TLSEnabled() bool {
	return fileExists(c.TLSCert) && fileExists(c.TLSKey)
}

// LoadEnvFiles applies .env files found in the working directory or its
// parent. Values in the files override the process environment.
func LoadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
