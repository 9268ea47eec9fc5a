package command

import (
	"fmt"
	"time"
)

// Config holds the command listener settings.
//
// Default values (applied by New if zero):
//   - Port: 8080
//   - MaxConnections: 100
//   - Workers: 8
//   - AdmissionTimeout: 10s
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - MaxRequestBytes: 8KiB
//   - SessionCookie: "sid"
//   - AllowedOrigin: "*"
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type Config struct {
	// Enabled defaults are handled in pkg/config so an explicit false survives.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port to listen on. Zero means the default, and Serve
	// picks an ephemeral port when ListenAddr is set to ":0".
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// ListenAddr overrides Port when set. Tests use "127.0.0.1:0".
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr,omitempty"`

	// MaxConnections bounds connections being processed at once.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// Workers is the fixed worker pool size.
	Workers int `mapstructure:"workers" yaml:"workers" validate:"min=0"`

	// AdmissionTimeout is how long the listener waits for a free slot
	// before closing the new connection.
	AdmissionTimeout time.Duration `mapstructure:"admission_timeout" yaml:"admission_timeout" validate:"min=0"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// MaxRequestBytes caps the command line or HTTP body.
	MaxRequestBytes int64 `mapstructure:"max_request_bytes" yaml:"max_request_bytes" validate:"min=0"`

	// ClientRate is the per-IP connection rate in connections per second.
	// Zero disables the throttle.
	ClientRate  float64 `mapstructure:"client_rate" yaml:"client_rate" validate:"min=0"`
	ClientBurst int     `mapstructure:"client_burst" yaml:"client_burst" validate:"min=0"`

	// TradeRequiresAuth makes BUY and SELL require the user's own session.
	TradeRequiresAuth bool `mapstructure:"trade_requires_auth" yaml:"trade_requires_auth"`

	SessionCookie string `mapstructure:"session_cookie" yaml:"session_cookie"`
	AllowedOrigin string `mapstructure:"allowed_origin" yaml:"allowed_origin"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval paces the periodic load log line. Zero disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 100
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.AdmissionTimeout == 0 {
		c.AdmissionTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.MaxRequestBytes == 0 {
		c.MaxRequestBytes = 8 << 10
	}
	if c.ClientRate > 0 && c.ClientBurst <= 0 {
		c.ClientBurst = 1
	}
	if c.SessionCookie == "" {
		c.SessionCookie = "sid"
	}
	if c.AllowedOrigin == "" {
		c.AllowedOrigin = "*"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.AdmissionTimeout < 0 {
		return fmt.Errorf("invalid AdmissionTimeout %v: must be >= 0", c.AdmissionTimeout)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("invalid timeouts read=%v write=%v: must be >= 0", c.ReadTimeout, c.WriteTimeout)
	}
	if c.ClientRate < 0 {
		return fmt.Errorf("invalid ClientRate %v: must be >= 0", c.ClientRate)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

func (c *Config) addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}
