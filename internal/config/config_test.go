package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8088" {
		t.Errorf("expected :8088, got %s", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory, got %s", cfg.Store.Backend)
	}
	if cfg.Executor.DefaultRetries != 2 {
		t.Errorf("expected 2, got %d", cfg.Executor.DefaultRetries)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[server]
addr = ":9090"

[store]
backend = "sqlite"
sqlite_path = "custom.db"
`), 0644)

	cfg := Load(path)
	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Store.SQLitePath != "custom.db" {
		t.Errorf("expected custom.db, got %s", cfg.Store.SQLitePath)
	}
	// Defaults preserved
	if cfg.Executor.DefaultLoopConcurrency != 4 {
		t.Errorf("default should be preserved, got %d", cfg.Executor.DefaultLoopConcurrency)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("WINDLASS_ADDR", "127.0.0.1:9999")
	t.Setenv("WINDLASS_STORE_BACKEND", "postgres")
	t.Setenv("WINDLASS_POSTGRES_DSN", "postgres://localhost/windlass")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("expected 127.0.0.1:9999, got %s", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Backend)
	}
	if cfg.Store.PostgresDSN != "postgres://localhost/windlass" {
		t.Errorf("expected DSN override, got %s", cfg.Store.PostgresDSN)
	}
}

func TestObserverEnabledFlag(t *testing.T) {
	cfg := Default()
	if cfg.Observer.Enabled {
		t.Fatalf("expected observer disabled by default")
	}

	t.Setenv("WINDLASS_OBSERVER_ENABLED", "true")
	cfg = Load("/nonexistent/path.toml")
	if !cfg.Observer.Enabled {
		t.Fatalf("expected observer enabled via env override")
	}
}
