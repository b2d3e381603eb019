package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/ktru/internal/config"
)

const baseConfig = `
version = "1.0.0"

[server]
port = 8080

[api]
api_key = "base-key"

[store]
driver = "redis"

[database]
name = "ktru"

[reconciler]
base_interval = "30s"
`

const overlayConfig = `
[server]
port = 9090

[store]
driver = "postgres"

[database]
host = "db.internal"
auto_migrate = true
`

// writeConfigs switches into a temporary directory holding the given files.
func writeConfigs(t *testing.T, files map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	t.Chdir(dir)
}

func TestLoadDefaults(t *testing.T) {
	writeConfigs(t, map[string]string{config.BaseConfigFile: baseConfig})

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"version", cfg.Version, "1.0.0"},
		{"shutdown", cfg.ShutdownTimeoutDuration(), 30 * time.Second},
		{"addr", cfg.Server.Addr(), "0.0.0.0:8080"},
		{"read header timeout", cfg.Server.ReadHeaderTimeoutDuration(), 10 * time.Second},
		{"idle timeout", cfg.Server.IdleTimeoutDuration(), 2 * time.Minute},
		{"base path", cfg.API.BasePath, "/api"},
		{"max batch products", cfg.API.MaxBatchProducts, 100},
		{"max body", cfg.API.MaxBodySizeBytes(), int64(10 * 1024 * 1024)},
		{"driver", cfg.Store.Driver, config.DriverRedis},
		{"archive disabled", cfg.Storage.Enabled(), false},
		{"max requests per job", cfg.Provider.MaxRequestsPerJob, 25},
		{"base interval", cfg.Reconciler.BaseIntervalDuration(), 30 * time.Second},
		{"prompt", cfg.Prompts.Default, "ktru_detection.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestLoadOverlay(t *testing.T) {
	writeConfigs(t, map[string]string{
		config.BaseConfigFile: baseConfig,
		"config.staging.toml": overlayConfig,
	})
	t.Setenv(config.EnvKtruEnv, "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Env() != "staging" {
		t.Errorf("env = %s, want staging", cfg.Env())
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		t.Errorf("driver = %s, want postgres", cfg.Store.Driver)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Name != "ktru" || !cfg.Database.AutoMigrate {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.API.APIKey != "base-key" {
		t.Errorf("api key lost in merge: %q", cfg.API.APIKey)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	writeConfigs(t, map[string]string{config.BaseConfigFile: baseConfig})
	t.Setenv(config.EnvServerPort, "7070")
	t.Setenv("KTRU_API_KEY", "env-key")
	t.Setenv("KTRU_STORE_DRIVER", "postgres")
	t.Setenv("KTRU_DB_DSN", "postgres://svc@db:5432/ktru?sslmode=require")
	t.Setenv(config.EnvKtruShutdownTimeout, "45s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.API.APIKey != "env-key" {
		t.Errorf("api key = %q, want env-key", cfg.API.APIKey)
	}
	if cfg.Store.Driver != config.DriverPostgres {
		t.Errorf("driver = %s", cfg.Store.Driver)
	}
	if cfg.Database.Dsn() != "postgres://svc@db:5432/ktru?sslmode=require" {
		t.Errorf("dsn = %s", cfg.Database.Dsn())
	}
	if cfg.ShutdownTimeoutDuration() != 45*time.Second {
		t.Errorf("shutdown = %v", cfg.ShutdownTimeoutDuration())
	}
}

func TestLoadWithoutFile(t *testing.T) {
	writeConfigs(t, nil)
	t.Setenv("KTRU_API_KEY", "only-env")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.APIKey != "only-env" || cfg.Version != "0.1.0" {
		t.Errorf("cfg = %+v", cfg.API)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	writeConfigs(t, nil)
	if err := os.Mkdir("conf", 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"ktru.toml": baseConfig, "config.staging.toml": overlayConfig} {
		if err := os.WriteFile(filepath.Join("conf", name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv(config.EnvKtruConfig, filepath.Join("conf", "ktru.toml"))
	t.Setenv(config.EnvKtruEnv, "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.APIKey != "base-key" || cfg.Server.Port != 9090 {
		t.Errorf("api key = %q, port = %d", cfg.API.APIKey, cfg.Server.Port)
	}

	t.Setenv(config.EnvKtruConfig, filepath.Join("conf", "missing.toml"))
	if _, err := config.Load(); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing api key",
			body:    "[server]\nport = 8080\n",
			wantErr: "api_key required",
		},
		{
			name:    "unknown driver",
			body:    baseConfig,
			env:     map[string]string{"KTRU_STORE_DRIVER": "sqlite"},
			wantErr: "unknown driver",
		},
		{
			name:    "bad code pattern",
			body:    baseConfig + "\n[prompts]\ncode_pattern = \"([\"\n",
			wantErr: "prompts",
		},
		{
			name:    "bad server timeout",
			body:    baseConfig,
			env:     map[string]string{config.EnvServerIdleTimeout: "forever"},
			wantErr: "invalid idle_timeout",
		},
		{
			name:    "malformed toml",
			body:    "[server\nport = 1",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfigs(t, map[string]string{config.BaseConfigFile: tt.body})
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
