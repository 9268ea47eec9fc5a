// Package admission bounds how many connections are processed at once.
//
// Capacity is a buffered channel: holding a slot means having a value in it.
// A release hands capacity to exactly one blocked acquirer, in no guaranteed
// order. Under sustained overload waiters time out instead of queueing
// without bound.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAdmissionTimeout means no slot freed up within the acquire timeout.
var ErrAdmissionTimeout = errors.New("admission timeout")

// Controller is a counting gate with a bounded wait.
type Controller struct {
	sem     chan struct{}
	timeout time.Duration
}

// Release returns a slot. Calling it more than once is a no-op.
type Release func()

// New returns a Controller admitting at most max concurrent holders. Acquire
// waits at most timeout; a non-positive timeout waits until ctx ends.
func New(max int, timeout time.Duration) *Controller {
	if max <= 0 {
		panic("admission: max must be positive")
	}
	return &Controller{sem: make(chan struct{}, max), timeout: timeout}
}

// Acquire takes a slot using the controller's timeout.
func (c *Controller) Acquire(ctx context.Context) (Release, error) {
	return c.AcquireTimeout(ctx, c.timeout)
}

// AcquireTimeout takes a slot, waiting at most timeout. It returns
// ErrAdmissionTimeout if the wait elapsed, or ctx.Err() if ctx ended first.
// On error nothing was acquired and there is nothing to release.
func (c *Controller) AcquireTimeout(ctx context.Context, timeout time.Duration) (Release, error) {
	select {
	case c.sem <- struct{}{}:
		return c.release(), nil
	default:
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case c.sem <- struct{}{}:
		return c.release(), nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrAdmissionTimeout
	}
}

func (c *Controller) release() Release {
	var once sync.Once
	return func() {
		once.Do(func() { <-c.sem })
	}
}

// InFlight returns how many slots are currently held.
func (c *Controller) InFlight() int { return len(c.sem) }

// Max returns the capacity.
func (c *Controller) Max() int { return cap(c.sem) }
