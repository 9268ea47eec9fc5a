// Package workerpool runs tasks on a fixed set of goroutines draining one
// shared FIFO queue.
//
// Workers block on a condition variable while the queue is empty. Shutdown
// stops new submissions, lets the queue drain, and returns once every worker
// has exited. A task that panics is recovered and logged at the pool
// boundary; its worker moves on to the next task.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/stockd/internal/logger"
)

// ErrPoolClosed is returned by Submit once Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is one unit of work. The pool observes no result.
type Task func()

// Metrics receives pool events. Implementations must be safe for concurrent use.
type Metrics interface {
	SetQueueDepth(depth int)
	SetBusyWorkers(n int)
	ObserveTask(d time.Duration, panicked bool)
}

type noopMetrics struct{}

func (noopMetrics) SetQueueDepth(int)               {}
func (noopMetrics) SetBusyWorkers(int)              {}
func (noopMetrics) ObserveTask(time.Duration, bool) {}

// Option customizes a Pool at construction.
type Option func(*Pool)

// WithMetrics reports queue depth, busy workers and task durations to m.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pool is a fixed-size worker pool. The zero value is not usable; call New.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	head   int
	closed bool

	size    int
	workers sync.WaitGroup
	done    chan struct{}

	shutdownOnce sync.Once

	busy      atomic.Int32
	completed atomic.Uint64
	panics    atomic.Uint64

	metrics Metrics
}

// New starts size workers. It panics if size is not positive, since a pool
// that can never run a task is a configuration bug.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		panic("workerpool: size must be positive")
	}

	p := &Pool{
		size:    size,
		done:    make(chan struct{}),
		metrics: noopMetrics{},
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	logger.Debug("Worker pool started with %d workers", size)
	return p
}

// Submit enqueues t. It never blocks on task execution.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return errors.New("workerpool: nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, t)
	depth := len(p.queue) - p.head
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks and waits for the queue to drain and every
// worker to exit. Calling it again waits on the same shutdown.
//
// If ctx ends first, Shutdown returns ctx.Err(); draining continues in the
// background and running tasks are never interrupted.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pending := len(p.queue) - p.head
		p.mu.Unlock()

		logger.Debug("Worker pool shutting down, draining %d queued tasks", pending)
		p.cond.Broadcast()

		go func() {
			p.workers.Wait()
			close(p.done)
		}()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every worker has exited after Shutdown.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

func (p *Pool) worker(id int) {
	defer p.workers.Done()

	for {
		task, ok := p.next()
		if !ok {
			logger.Debug("Worker %d exiting", id)
			return
		}
		p.run(id, task)
	}
}

// next blocks until a task is available or the pool is closed and empty.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.head == len(p.queue) && !p.closed {
		p.cond.Wait()
	}
	if p.head == len(p.queue) {
		return nil, false
	}

	task := p.queue[p.head]
	p.queue[p.head] = nil
	p.head++
	if p.head == len(p.queue) {
		p.queue = p.queue[:0]
		p.head = 0
	}

	p.metrics.SetQueueDepth(len(p.queue) - p.head)
	return task, true
}

func (p *Pool) run(id int, task Task) {
	start := time.Now()
	p.metrics.SetBusyWorkers(int(p.busy.Add(1)))

	panicked := true
	defer func() {
		if panicked {
			r := recover()
			p.panics.Add(1)
			logger.Error("Worker %d: task panicked: %v\n%s", id, r, debug.Stack())
		}
		p.completed.Add(1)
		p.metrics.SetBusyWorkers(int(p.busy.Add(-1)))
		p.metrics.ObserveTask(time.Since(start), panicked)
	}()

	task()
	panicked = false
}

// Size returns the fixed number of workers.
func (p *Pool) Size() int { return p.size }

// QueueDepth returns how many tasks wait for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) - p.head
}

// Busy returns how many workers are executing a task.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Completed returns how many tasks finished, including those that panicked.
func (p *Pool) Completed() uint64 { return p.completed.Load() }

// Panics returns how many tasks panicked.
func (p *Pool) Panics() uint64 { return p.panics.Load() }
