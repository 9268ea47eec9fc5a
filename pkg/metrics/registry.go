// Package metrics provides Prometheus metrics for the stockd server.
//
// All metrics are optional. Until InitRegistry is called the constructors in
// the prometheus subpackage return no-op implementations, so the command
// listener, worker pool and market feed run the same way with or without
// collection enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewCommandMetrics()
//	adapter := command.New(cfg, deps, m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is written once by InitRegistry and read afterwards.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
