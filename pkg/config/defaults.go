package config

import (
	"strings"
	"time"

	"github.com/marmos91/stockd/pkg/adapter/command"
)

// DefaultSymbols are the tickers the market feed tracks when none are configured.
var DefaultSymbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"}

// DefaultNames are the display names written with DefaultSymbols.
var DefaultNames = map[string]string{
	"AAPL":  "Apple Inc.",
	"MSFT":  "Microsoft Corporation",
	"GOOGL": "Alphabet Inc.",
	"AMZN":  "Amazon.com Inc.",
	"TSLA":  "Tesla Inc.",
}

// ApplyDefaults fills zero values in cfg.
//
// Booleans are left alone so an explicit false in a file survives; the
// command adapter is the exception and is enabled when it looks unconfigured.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyAdaptersDefaults(&cfg.Adapters)
	applyStatsDefaults(&cfg.Stats)
	applyMetricsDefaults(&cfg.Metrics)
	applyMarketDefaults(&cfg.Market)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	} else {
		cfg.Level = strings.ToUpper(cfg.Level)
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "csv"
	}

	switch cfg.Type {
	case "csv":
		cfg.CSV = withDefault(cfg.CSV, "dir", "./db")
	case "badger":
		cfg.Badger = withDefault(cfg.Badger, "db_path", "./db/badger")
	case "sqlite":
		cfg.SQLite = withDefault(cfg.SQLite, "path", "./db/stockd.db")
	}
}

func withDefault(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	if v, ok := m[key]; !ok || v == nil || v == "" {
		m[key] = value
	}
	return m
}

func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the command adapter when no port was configured either; an
	// explicit enabled: false next to a port stays disabled.
	if !cfg.Command.Enabled && cfg.Command.Port == 0 {
		cfg.Command.Enabled = true
	}

	applyCommandDefaults(&cfg.Command)
}

func applyCommandDefaults(cfg *command.Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 100
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.AdmissionTimeout == 0 {
		cfg.AdmissionTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBytes == 0 {
		cfg.MaxRequestBytes = 8 << 10
	}
	if cfg.ClientRate > 0 && cfg.ClientBurst == 0 {
		cfg.ClientBurst = 1
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "sid"
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

func applyStatsDefaults(cfg *StatsConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Type == "redis" {
		cfg.Redis = withDefault(cfg.Redis, "addr", "localhost:6379")
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyMarketDefaults(cfg *MarketConfig) {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.ProviderURL == "" {
		cfg.ProviderURL = "https://www.alphavantage.co/query"
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if cfg.Names == nil {
		cfg.Names = make(map[string]string, len(DefaultNames))
		for k, v := range DefaultNames {
			cfg.Names[k] = v
		}
	} else {
		// viper lowercases map keys; tickers are upper case.
		names := make(map[string]string, len(cfg.Names))
		for k, v := range cfg.Names {
			names[strings.ToUpper(k)] = v
		}
		cfg.Names = names
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// It backs the init command and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Type: "csv",
			CSV:  map[string]any{"dir": "./db"},
		},
		Adapters: AdaptersConfig{
			Command: command.Config{
				Enabled:           true,
				TradeRequiresAuth: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
