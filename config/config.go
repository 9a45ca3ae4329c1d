// Package config loads service configuration from a config file and the
// environment. Env var overrides use prefix WORKSPACEKIT_ with dots replaced
// by underscores, e.g. WORKSPACEKIT_STORAGE_BACKEND.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/studyroomhq/workspace-kit/logging"
)

// Config holds application configuration.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Dispatch DispatchConfig
}

// ServerConfig holds HTTP listener settings. There is deliberately no write
// timeout; the event stream endpoint holds its connection open.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects and configures the event store backend.
type StorageConfig struct {
	// Backend is one of "sqlite", "postgres", "memory".
	Backend string `mapstructure:"backend"`
	// DSN is the backend connection string. For sqlite this is a file path
	// or file: URI; ignored by the memory backend.
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig holds log output settings. Fields left empty fall back to
// the LOG_* environment variables, see Resolve.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	Environment string `mapstructure:"environment"`
}

// DispatchConfig holds command execution settings.
type DispatchConfig struct {
	// MaxRetries bounds conflict retries for creation commands.
	MaxRetries int `mapstructure:"max_retries"`
}

// Load reads configuration from file and env.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.dsn", filepath.Join(dataDir(), "workspaces.db"))
	// Logging keys are registered without values; anything not set here
	// falls back to the LOG_* environment variables in Resolve.
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.environment", "")
	v.SetDefault("dispatch.max_retries", 2)

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("WORKSPACEKIT_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "workspacekit"))
		v.AddConfigPath(".")
		v.SetConfigName("workspacekit")
	}

	v.SetEnvPrefix("WORKSPACEKIT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite, postgres or memory)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres backend")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative")
	}
	return nil
}

// Resolve produces the logger configuration: values set in this config win,
// anything left empty falls back to the LOG_* environment variables and
// their environment-specific defaults.
func (c LoggingConfig) Resolve() logging.Config {
	out := logging.GetConfigFromEnv()
	if c.Level != "" {
		out.Level = c.Level
	}
	if c.Format != "" {
		out.Format = c.Format
	}
	if c.Environment != "" {
		out.Environment = c.Environment
	}
	if c.AddSource {
		out.AddSource = true
	}
	return out
}

func dataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "workspacekit")
}
