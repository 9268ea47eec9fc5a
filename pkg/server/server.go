package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/adapter"
)

// Task is a background job owned by the server: it starts with Serve and is
// cancelled on shutdown. Run should return nil once ctx is done.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Server manages the lifecycle of network adapters and background tasks that
// share one store, session registry and stats recorder.
//
// Lifecycle:
//  1. Creation: New() with the shared services
//  2. Registration: AddAdapter() and AddTask()
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: context cancellation stops adapters in reverse order, then
//     cancels the tasks and waits for all of them
//
// Example usage:
//
//	srv := server.New(services, server.Options{})
//	srv.AddAdapter(command.New(cfg, m))
//	srv.AddTask(server.Task{Name: "market", Run: feed.Run})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type Server struct {
	services *adapter.Services
	opts     Options

	mu       sync.RWMutex
	adapters []adapter.Adapter
	tasks    []Task
	served   bool
}

// Options tunes the server.
type Options struct {
	// StopTimeout bounds each adapter's Stop. Default: 30s
	StopTimeout time.Duration
}

// New creates a server around the shared services.
//
// Panics if svc or its store or sessions are nil.
func New(svc *adapter.Services, opts Options) *Server {
	if svc == nil || svc.Store == nil || svc.Sessions == nil {
		panic("server: services, store and sessions are required")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}

	return &Server{
		services: svc,
		opts:     opts,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter injects the shared services into a and registers it.
// Duplicate protocols and port conflicts are rejected.
//
// Panics if a is nil or Serve has already been called.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter for protocol %s already registered", a.Protocol())
		}
		if existing.Port() == a.Port() {
			return fmt.Errorf("port %d already in use by %s adapter", a.Port(), existing.Protocol())
		}
	}

	a.SetServices(s.services)
	s.adapters = append(s.adapters, a)

	if r, ok := a.(adapter.Reporter); ok && r.ReportInterval() > 0 {
		s.tasks = append(s.tasks, metricsLogTask(a.Protocol(), r))
	}

	logger.Info("Registered %s adapter on port %d", a.Protocol(), a.Port())
	return nil
}

// AddTask registers a background task.
//
// Panics if Serve has already been called.
func (s *Server) AddTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add task after Serve() has been called")
	}
	s.tasks = append(s.tasks, t)
	logger.Debug("Registered background task %s", t.Name)
}

// Serve starts all adapters and tasks and blocks until ctx is cancelled or
// an adapter fails.
//
// Returns ctx.Err() on cancellation, or the first adapter error. A failing
// task is logged and does not stop the server.
//
// Panics if called more than once.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return errors.New("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	logger.Info("Starting stockd with %d adapter(s) and %d background task(s)", len(adapters), len(tasks))

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	var taskWG sync.WaitGroup
	for _, t := range tasks {
		taskWG.Add(1)
		go func(t Task) {
			defer taskWG.Done()
			if err := t.Run(taskCtx); err != nil && taskCtx.Err() == nil {
				logger.Error("Background task %s failed: %v", t.Name, err)
				return
			}
			logger.Debug("Background task %s stopped", t.Name)
		}(t)
	}

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			logger.Info("Starting %s adapter on port %d", a.Protocol(), a.Port())

			err := a.Serve(ctx)
			switch {
			case err == nil:
				logger.Info("%s adapter stopped", a.Protocol())
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				logger.Debug("%s adapter stopped: %v", a.Protocol(), err)
			default:
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				errChan <- adapterError{protocol: a.Protocol(), err: err}
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	wg.Wait()

	cancelTasks()
	taskWG.Wait()

	logger.Info("stockd stopped")
	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops adapters in reverse registration order.
func (s *Server) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.StopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Adapter(nil), s.adapters...)
}

// Tasks returns the names of the registered background tasks.
func (s *Server) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.Name
	}
	return names
}

// metricsLogTask logs r's load summary every interval.
func metricsLogTask(protocol string, r adapter.Reporter) Task {
	return Task{
		Name: strings.ToLower(protocol) + "-metrics-log",
		Run: func(ctx context.Context) error {
			ticker := time.NewTicker(r.ReportInterval())
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("%s metrics: %s", protocol, r.Report())
				}
			}
		},
	}
}
