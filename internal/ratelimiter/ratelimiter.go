package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket used to pace outbound calls (the market feed)
// and to throttle a single client. All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter refilling perSecond tokens per second with the
// given burst capacity.
//
// A non-positive perSecond disables limiting. A zero burst is raised to one so
// a positive rate can ever admit a request.
func New(perSecond float64, burst uint) *RateLimiter {
	if perSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// PerMinute builds a limiter allowing n requests per minute with a burst of one,
// the pacing a free quote API typically imposes.
func PerMinute(n uint) *RateLimiter {
	if n == 0 {
		return New(0, 0)
	}
	return New(float64(n)/60.0, 1)
}

// Allow reports whether a token was available and consumes it. Never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// AllowN consumes n tokens if all of them are available.
func (r *RateLimiter) AllowN(n uint) bool {
	return r.limiter.AllowN(time.Now(), int(n))
}

// SetLimit changes the refill rate. Non-positive values disable limiting.
func (r *RateLimiter) SetLimit(perSecond float64) {
	if perSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(perSecond))
}

// SetBurst updates the bucket capacity.
func (r *RateLimiter) SetBurst(burst uint) {
	r.limiter.SetBurst(int(burst))
}

// Tokens returns the tokens currently in the bucket. Monitoring only.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
