package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	useConfigHome(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != "csv" || cfg.Store.CSV["dir"] != "./db" {
		t.Errorf("Expected csv store in ./db, got %q %v", cfg.Store.Type, cfg.Store.CSV)
	}
	if !cfg.Adapters.Command.Enabled {
		t.Error("Expected command adapter to be enabled")
	}
	if !cfg.Adapters.Command.TradeRequiresAuth {
		t.Error("Expected trade_requires_auth to default to true")
	}
	if cfg.Adapters.Command.MaxConnections != 100 {
		t.Errorf("Expected max_connections 100, got %d", cfg.Adapters.Command.MaxConnections)
	}
	if cfg.Adapters.Command.AdmissionTimeout != 10*time.Second {
		t.Errorf("Expected admission_timeout 10s, got %v", cfg.Adapters.Command.AdmissionTimeout)
	}
	if cfg.Stats.Type != "memory" {
		t.Errorf("Expected stats type memory, got %q", cfg.Stats.Type)
	}
	if cfg.Market.Enabled {
		t.Error("Expected market feed to be disabled by default")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  type: sqlite
  sqlite:
    path: /tmp/stockd-test.db
adapters:
  command:
    port: 9000
    workers: 2
    admission_timeout: 2s
    trade_requires_auth: false
stats:
  type: none
market:
  enabled: true
  api_key: demo
  symbols: [AAPL, MSFT]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != "sqlite" || cfg.Store.SQLite["path"] != "/tmp/stockd-test.db" {
		t.Errorf("Unexpected store section: %q %v", cfg.Store.Type, cfg.Store.SQLite)
	}
	cmd := cfg.Adapters.Command
	if cmd.Port != 9000 || cmd.Workers != 2 || cmd.AdmissionTimeout != 2*time.Second {
		t.Errorf("Unexpected command config: %+v", cmd)
	}
	if cmd.TradeRequiresAuth {
		t.Error("Expected explicit trade_requires_auth: false to survive")
	}
	if cmd.MaxConnections != 100 {
		t.Errorf("Expected default max_connections 100, got %d", cmd.MaxConnections)
	}
	if !cfg.Market.Enabled || len(cfg.Market.Symbols) != 2 {
		t.Errorf("Unexpected market config: %+v", cfg.Market)
	}
	if cfg.Market.RequestsPerMinute != 5 {
		t.Errorf("Expected 5 requests per minute, got %d", cfg.Market.RequestsPerMinute)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
store:
  type: sqlite
  sqlite:
    path: /tmp/from-file.db
`)
	t.Setenv("STOCKD_STORE_TYPE", "memory")
	t.Setenv("STOCKD_ADAPTERS_COMMAND_PORT", "7070")
	t.Setenv("STOCKD_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Type != "memory" {
		t.Errorf("Expected env store type memory, got %q", cfg.Store.Type)
	}
	if cfg.Adapters.Command.Port != 7070 {
		t.Errorf("Expected env port 7070, got %d", cfg.Adapters.Command.Port)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env level WARN, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, "store: [not, a, map")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for malformed config file")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
store:
  type: postgres
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "Config.Store.Type: validation failed on 'oneof' tag") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	home := useConfigHome(t)

	if got, want := GetDefaultConfigPath(), filepath.Join(home, "stockd", "config.yaml"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if ConfigExists() {
		t.Error("Expected no config in a fresh config home")
	}
}
