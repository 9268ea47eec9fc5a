package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key (a client IP for the command
// listener). Buckets idle for longer than the idle TTL are dropped by the
// janitor so the map stays bounded by the set of recently active clients.
type KeyedLimiter struct {
	mu           sync.Mutex
	entries      map[string]*keyedEntry
	perSecond    rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type keyedEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type KeyedOption func(*KeyedLimiter)

func WithIdleTTL(d time.Duration) KeyedOption {
	return func(k *KeyedLimiter) { k.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) KeyedOption {
	return func(k *KeyedLimiter) { k.cleanupEvery = d }
}

// NewKeyed returns a per-key limiter. A non-positive perSecond admits everything.
func NewKeyed(perSecond float64, burst int, opts ...KeyedOption) *KeyedLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	k := &KeyedLimiter{
		entries:      make(map[string]*keyedEntry),
		perSecond:    limit,
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Allow consumes a token from key's bucket, creating the bucket on first use.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.get(key).Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	k.mu.Lock()
	defer k.mu.Unlock()

	if ent, ok := k.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(k.perSecond, k.burst)
	k.entries[key] = &keyedEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops buckets not used within the idle TTL.
func (k *KeyedLimiter) Cleanup() {
	cutoff := time.Now().Add(-k.idleTTL)

	k.mu.Lock()
	defer k.mu.Unlock()

	for key, ent := range k.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (k *KeyedLimiter) StartJanitor(ctx context.Context) {
	if k.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(k.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				k.Cleanup()
			}
		}
	}()
}
