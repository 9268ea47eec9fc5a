package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/marmos91/stockd/pkg/adapter/command"
	"github.com/spf13/viper"
)

// Config represents the complete stockd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (STOCKD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store and stats backends follow the same pattern: a Type field selects the
// implementation and only the matching type-specific section is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Store selects the Record Store backend
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// Stats selects where per-command outcome counters go
	Stats StatsConfig `mapstructure:"stats" yaml:"stats"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Market controls the background price feed
	Market MarketConfig `mapstructure:"market" yaml:"market"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout bounds how long Serve waits for adapters to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// StoreConfig specifies the Record Store.
type StoreConfig struct {
	// Type selects the backend.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory csv badger sqlite s3"`

	CSV    map[string]any `mapstructure:"csv" yaml:"csv,omitempty"`
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
	SQLite map[string]any `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
	S3     map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	Command command.Config `mapstructure:"command" yaml:"command"`
}

// StatsConfig selects the stats recorder.
type StatsConfig struct {
	// Type is none, memory or redis.
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none memory redis"`

	Redis map[string]any `mapstructure:"redis" yaml:"redis,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// MarketConfig configures the market feed.
type MarketConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RefreshInterval is the time between two refreshes.
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval" validate:"min=0"`

	// ProviderURL is a GLOBAL_QUOTE compatible endpoint.
	ProviderURL string `mapstructure:"provider_url" yaml:"provider_url" validate:"omitempty,url"`

	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	Symbols []string          `mapstructure:"symbols" yaml:"symbols" validate:"dive,required"`
	Names   map[string]string `mapstructure:"names" yaml:"names"`

	// RequestsPerMinute is the provider's request budget. Zero disables pacing.
	RequestsPerMinute uint `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`

	// Timeout bounds a single quote request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not an
// error; defaults are used instead.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: STOCKD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("STOCKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans whose default is true cannot be told apart from an explicit
	// false after unmarshalling, so they are seeded here.
	v.SetDefault("adapters.command.trade_requires_auth", true)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	// Default location: $XDG_CONFIG_HOME/stockd/config.{yaml,toml}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"store.type",
	"store.csv.dir",
	"store.badger.db_path",
	"store.sqlite.path",
	"store.s3.bucket",
	"store.s3.region",
	"store.s3.endpoint",
	"adapters.command.enabled",
	"adapters.command.port",
	"adapters.command.max_connections",
	"adapters.command.workers",
	"adapters.command.trade_requires_auth",
	"stats.type",
	"stats.redis.addr",
	"stats.redis.password",
	"metrics.enabled",
	"metrics.port",
	"market.enabled",
	"market.api_key",
	"market.provider_url",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/stockd, falling back to the current
// directory when no config home can be determined.
func getConfigDir() string {
	if xdg.ConfigHome == "" {
		return "."
	}
	return filepath.Join(xdg.ConfigHome, "stockd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
