package adapter

import (
	"context"
	"time"

	"github.com/marmos91/stockd/pkg/session"
	"github.com/marmos91/stockd/pkg/stats"
	"github.com/marmos91/stockd/pkg/store"
)

// Services is the shared state every adapter works against. The server owns
// it and injects it before Serve.
type Services struct {
	Store    store.Store
	Sessions *session.Registry
	Stats    stats.Recorder
}

// Adapter is a network front end managed by the server.
//
// Lifecycle:
//  1. Creation with adapter-specific configuration
//  2. SetServices injects the shared store, sessions and stats
//  3. Serve blocks until the context is cancelled
//  4. Stop initiates graceful shutdown
//
// Implementations must be safe for concurrent use. Stop may be called
// concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts accepting connections and blocks until ctx is cancelled
	// or an unrecoverable error occurs. If Serve returns before cancellation
	// the server treats it as fatal and stops every other adapter.
	Serve(ctx context.Context) error

	// SetServices is called exactly once, before Serve.
	SetServices(svc *Services)

	// Stop stops accepting, drains in-flight work within ctx and releases
	// resources.
	Stop(ctx context.Context) error

	// Protocol is a constant name for logs and metrics.
	Protocol() string

	// Port is the configured listen port.
	Port() int
}

// Reporter is implemented by adapters that summarise their load for the
// periodic metrics log line.
type Reporter interface {
	Report() string
	ReportInterval() time.Duration
}
