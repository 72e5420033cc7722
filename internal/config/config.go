// Package config loads windlass-server configuration: defaults, then an
// optional TOML file, then environment variable overrides, in that
// precedence order (env wins).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full windlass-server configuration surface.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Executor ExecutorConfig `toml:"executor"`
	Observer ObserverConfig `toml:"observer"`
}

// ServerConfig configures the HTTP listener and auth.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	AuthToken string `toml:"auth_token"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// ExecutorConfig holds executor default settings loaded from the TOML file.
// windlass-server does not pass them on: the executor, step runner and HTTP
// caller use their own built-in defaults when a Workflow/ApiConfig leaves a
// field unset.
type ExecutorConfig struct {
	DefaultTimeoutSeconds    int `toml:"default_timeout_seconds"`
	DefaultRetries           int `toml:"default_retries"`
	DefaultRetryDelayMillis  int `toml:"default_retry_delay_millis"`
	DefaultLoopConcurrency   int `toml:"default_loop_concurrency"`
}

// ObserverConfig toggles OTEL trace/metric export.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8088"},
		Store:  StoreConfig{Backend: "memory", SQLitePath: "windlass.db"},
		Executor: ExecutorConfig{
			DefaultTimeoutSeconds:   30,
			DefaultRetries:          2,
			DefaultRetryDelayMillis: 500,
			DefaultLoopConcurrency:  4,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). path
// defaults to "windlass.toml" in the working directory; a missing file is
// not an error.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "windlass.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("WINDLASS_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("WINDLASS_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("WINDLASS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("WINDLASS_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("WINDLASS_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if os.Getenv("WINDLASS_OBSERVER_ENABLED") == "true" || os.Getenv("WINDLASS_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
