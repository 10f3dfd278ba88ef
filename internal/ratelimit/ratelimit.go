// Package ratelimit implements per-client sliding-window admission control.
// Thread-safe. No background goroutines — windows are pruned lazily on each
// Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its window.
var ErrRateLimited = errors.New("rate limit exceeded")

const defaultWindow = time.Minute

// Config configures the sliding-window rate limiter.
type Config struct {
	RequestsPerWindow int           // Ceiling per window. 0 = unlimited (Allow always succeeds).
	Window            time.Duration // Trailing interval. 0 = 60s.
}

// Limiter is a per-client sliding-window rate limiter.
// Each client gets an independent window; one client cannot exhaust
// another's quota.
type Limiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
	limit   int
	window  time.Duration

	now       func() time.Time // injectable clock for tests
	lastSweep time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerWindow is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		clients: make(map[string][]time.Time),
		limit:   cfg.RequestsPerWindow,
		window:  window,
		now:     time.Now,
	}
}

// Allow admits or rejects one request for the client. Timestamps older than
// the window are pruned first; at or above the ceiling the request is
// rejected without being recorded.
func (l *Limiter) Allow(clientID string) error {
	// Unlimited mode.
	if l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	l.sweepLocked(now, cutoff)

	recent := l.clients[clientID][:0]
	for _, ts := range l.clients[clientID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.limit {
		l.clients[clientID] = recent
		return ErrRateLimited
	}

	l.clients[clientID] = append(recent, now)
	return nil
}

// sweepLocked drops clients whose every timestamp has aged out, so the
// map does not grow without bound across distinct identities. Runs at
// most once per window; callers hold l.mu.
func (l *Limiter) sweepLocked(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for id, times := range l.clients {
		live := false
		for _, ts := range times {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.clients, id)
		}
	}
}
