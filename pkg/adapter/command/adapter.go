// Package command serves the pipe-delimited command protocol over TCP.
//
// Every accepted connection goes through the same gate:
//
//	accept -> per-IP throttle -> admission -> worker pool -> dispatch -> reply
//
// A connection refused by the throttle or by admission is closed at once
// without a reply. An admitted connection holds its slot until its task ends,
// whatever the outcome. The accept loop never runs a request itself.
package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/internal/ratelimiter"
	"github.com/marmos91/stockd/pkg/adapter"
	"github.com/marmos91/stockd/pkg/admission"
	"github.com/marmos91/stockd/pkg/dispatch"
	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/marmos91/stockd/pkg/trade"
	"github.com/marmos91/stockd/pkg/workerpool"
)

// Adapter implements adapter.Adapter for the command protocol.
//
// Shutdown flow:
//  1. Context cancelled or Stop called
//  2. Listener closed and pending admission waits abandoned
//  3. Worker pool drains every queued connection
//  4. Connections still open after ShutdownTimeout are force-closed
type Adapter struct {
	config  Config
	metrics metrics.CommandMetrics

	services   *adapter.Services
	dispatcher *dispatch.Dispatcher
	pool       *workerpool.Pool
	admission  *admission.Controller
	throttle   *ratelimiter.KeyedLimiter

	// listenerMu guards listener between Serve and a concurrent Stop.
	listenerMu sync.Mutex
	listener   net.Listener
	ready      chan struct{}
	done       chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// shutdownCtx aborts admission waits. Running requests never see it.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConns counts admitted connections until their task finishes.
	activeConns sync.WaitGroup
	connCount   atomic.Int32
	accepted    atomic.Int64
	rejected    atomic.Int64

	// connections maps remote address to net.Conn for forced closure.
	connections sync.Map
}

// New creates a stopped Adapter. Call SetServices, then Serve.
//
// Panics if config validation fails.
func New(config Config, m metrics.CommandMetrics) *Adapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid command adapter config: %v", err))
	}

	if m == nil {
		m = metrics.NewNoopCommandMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	a := &Adapter{
		config:         config,
		metrics:        m,
		admission:      admission.New(config.MaxConnections, config.AdmissionTimeout),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
	if config.ClientRate > 0 {
		a.throttle = ratelimiter.NewKeyed(config.ClientRate, config.ClientBurst)
	}
	return a
}

func (a *Adapter) SetServices(svc *adapter.Services) {
	a.services = svc
	a.dispatcher = dispatch.New(svc.Sessions, trade.NewService(svc.Store), dispatch.Options{
		TradeRequiresAuth: a.config.TradeRequiresAuth,
		Stats:             svc.Stats,
		Metrics:           a.metrics,
	})
	logger.Debug("Command adapter services configured")
}

// Serve listens and accepts until ctx is cancelled, then shuts down
// gracefully.
func (a *Adapter) Serve(ctx context.Context) error {
	if a.dispatcher == nil {
		return errors.New("command adapter: SetServices must be called before Serve")
	}
	defer close(a.done)

	listener, err := net.Listen("tcp", a.config.addr())
	if err != nil {
		return fmt.Errorf("failed to create command listener on %s: %w", a.config.addr(), err)
	}
	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	a.pool = workerpool.New(a.config.Workers, workerpool.WithMetrics(a.metrics))
	close(a.ready)

	logger.Info("Command server listening on %s", listener.Addr())
	logger.Debug("Command config: workers=%d max_connections=%d admission_timeout=%v read_timeout=%v",
		a.config.Workers, a.config.MaxConnections, a.config.AdmissionTimeout, a.config.ReadTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Command shutdown signal received: %v", ctx.Err())
		case <-a.shutdown:
		}
		a.initiateShutdown()
		// Stop may have run before the listener existed.
		_ = a.listener.Close()
	}()

	if a.throttle != nil {
		a.throttle.StartJanitor(a.shutdownCtx)
	}

	// Requests outlive the serve context: shutdown drains, it never interrupts.
	reqCtx := context.WithoutCancel(ctx)

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting command connection: %v", err)
				continue
			}
		}

		a.accepted.Add(1)
		a.metrics.RecordConnectionAccepted()
		a.admit(reqCtx, conn)
	}
}

// admit runs the gate for one connection. It blocks only on admission.
func (a *Adapter) admit(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()

	if a.throttle != nil && !a.throttle.Allow(clientIP(conn.RemoteAddr())) {
		a.reject(conn, "throttled")
		return
	}

	release, err := a.admission.Acquire(a.shutdownCtx)
	if err != nil {
		if errors.Is(err, admission.ErrAdmissionTimeout) {
			logger.Warn("Rejecting %s: no admission slot within %v", addr, a.config.AdmissionTimeout)
			a.reject(conn, "admission")
		} else {
			a.reject(conn, "shutdown")
		}
		return
	}
	a.metrics.SetInFlight(a.admission.InFlight())

	a.activeConns.Add(1)
	current := a.connCount.Add(1)
	a.connections.Store(addr, conn)
	logger.Debug("Command connection admitted from %s (active: %d)", addr, current)

	finish := func() {
		a.connections.Delete(addr)
		_ = conn.Close()
		release()
		a.metrics.SetInFlight(a.admission.InFlight())
		a.connCount.Add(-1)
		a.activeConns.Done()
		a.metrics.RecordConnectionClosed()
	}

	err = a.pool.Submit(func() {
		defer finish()
		newConnection(a, conn).serve(ctx)
	})
	if err != nil {
		finish()
		a.rejected.Add(1)
		a.metrics.RecordConnectionRejected("shutdown")
	}
}

func (a *Adapter) reject(conn net.Conn, reason string) {
	a.rejected.Add(1)
	a.metrics.RecordConnectionRejected(reason)
	a.metrics.RecordConnectionClosed()
	logger.Debug("Closing %s without reply: %s", conn.RemoteAddr(), reason)
	_ = conn.Close()
}

func clientIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// initiateShutdown stops the accept loop. Safe to call more than once.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Command shutdown initiated")
		close(a.shutdown)

		a.listenerMu.Lock()
		listener := a.listener
		a.listenerMu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				logger.Debug("Error closing command listener: %v", err)
			}
		}

		a.cancelRequests()
	})
}

// gracefulShutdown drains the pool, then force-closes what is left after
// ShutdownTimeout.
func (a *Adapter) gracefulShutdown() error {
	logger.Info("Command graceful shutdown: %d active connection(s), %d queued (timeout: %v)",
		a.connCount.Load(), a.pool.QueueDepth(), a.config.ShutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := a.pool.Shutdown(ctx); err != nil {
		remaining := a.connCount.Load()
		logger.Warn("Command shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, a.config.ShutdownTimeout)
		a.forceCloseConnections()
		return fmt.Errorf("command shutdown timeout: %d connections force-closed", remaining)
	}

	a.activeConns.Wait()
	logger.Info("Command graceful shutdown complete: all connections closed")
	return nil
}

func (a *Adapter) forceCloseConnections() {
	closed := 0
	a.connections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		} else {
			closed++
		}
		return true
	})
	logger.Info("Force-closed %d connection(s)", closed)
}

// Stop initiates shutdown and waits for Serve to return or ctx to end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	select {
	case <-a.ready:
	default:
		// Never served: nothing to wait for.
		return nil
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		logger.Warn("Command shutdown context cancelled: %d connection(s) still active: %v",
			a.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// Addr returns the bound listener address once Serve is listening, or nil.
func (a *Adapter) Addr() net.Addr {
	select {
	case <-a.ready:
		return a.listener.Addr()
	default:
		return nil
	}
}

// Ready is closed once the listener is bound.
func (a *Adapter) Ready() <-chan struct{} {
	return a.ready
}

// ActiveConnections returns admitted connections not yet finished.
func (a *Adapter) ActiveConnections() int32 {
	return a.connCount.Load()
}

func (a *Adapter) Port() int {
	return a.config.Port
}

func (a *Adapter) Protocol() string {
	return "command"
}

// Report summarises current load for the periodic metrics log.
func (a *Adapter) Report() string {
	var queued, busy int
	var completed, panics uint64
	select {
	case <-a.ready:
		queued, busy = a.pool.QueueDepth(), a.pool.Busy()
		completed, panics = a.pool.Completed(), a.pool.Panics()
	default:
	}

	return fmt.Sprintf("in_flight=%d/%d queue_depth=%d busy_workers=%d completed=%d panics=%d accepted=%d rejected=%d",
		a.admission.InFlight(), a.admission.Max(), queued, busy, completed, panics,
		a.accepted.Load(), a.rejected.Load())
}

func (a *Adapter) ReportInterval() time.Duration {
	return a.config.MetricsLogInterval
}
