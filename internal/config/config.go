// Package config loads the process configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls principal authentication on the HTTP API.
type AuthConfig struct {
	// JWTSecret signs and verifies the HS256 bearer tokens carrying the
	// caller principal.
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

// EngineConfig holds engine-level settings.
type EngineConfig struct {
	// FeeCollector is the privileged principal allowed to sweep the
	// protocol fee balance.
	FeeCollector string `yaml:"fee_collector" env:"ENGINE_FEE_COLLECTOR"`
}

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
	Engine   EngineConfig   `yaml:"engine"`
}

// Load reads configuration from the file named by CONFIG_PATH (default
// config.yaml, missing file tolerated), then applies .env and environment
// overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "memory"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Engine:   EngineConfig{FeeCollector: "protocol-fee-collector"},
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// envdecode errors only when a field is marked required; none are.
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if cfg.Database.Driver != "memory" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("postgres driver requires DATABASE_DSN")
	}
	return cfg, nil
}
