/*
Package config loads server configuration from a TOML file.

PURPOSE:
  One file, sectioned by concern. Every field has a default so the server
  runs with no config file at all; the file only overrides.

FILE FORMAT (config.toml):

  [server]
  host = "0.0.0.0"
  port = 8080
  shutdown_timeout = "10s"

  [database]
  path = "./data/cost-engine.db"

  [logging]
  level = "info"

PRECEDENCE:
  defaults < config file < command-line flags (applied in cmd/server).
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Path: "./data/cost-engine.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ShutdownGrace parses the shutdown timeout, falling back to 10s.
func (c ServerConfig) ShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// SlogLevel maps the configured level name to a slog level.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
