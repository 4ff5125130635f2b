// Package ratelimit provides a keyed token-bucket limiter. dirwatch uses it to
// keep repeated warnings (unreadable entries, failing scans) from flooding logs
// and error callbacks during long-running watches.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter manages per-key rate limiting.
// Each unique key gets its own independent rate limiter.
type KeyedRateLimiter struct {
	limiters   map[string]*entry
	limit      rate.Limit
	burst      int
	mu         sync.Mutex
	suppressed uint64
}

type entry struct {
	limiter    *rate.Limiter
	suppressed int
}

// New creates a keyed limiter allowing rps events per second per key with the given burst.
func New(rps float64, burst int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Every creates a keyed limiter allowing one event per interval per key after an initial burst.
func Every(interval time.Duration, burst int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Every(interval),
		burst:    burst,
	}
}

// Allow reports whether an event for key may happen now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	allowed, _ := krl.AllowN(key)
	return allowed
}

// AllowN is like Allow but also returns how many events for key were
// suppressed since the last allowed one, so callers can log "and N more".
func (krl *KeyedRateLimiter) AllowN(key string) (bool, int) {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	e, exists := krl.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}

	if !e.limiter.Allow() {
		e.suppressed++
		krl.suppressed++
		return false, 0
	}

	skipped := e.suppressed
	e.suppressed = 0
	return true, skipped
}

// Suppressed returns the total number of events denied across all keys.
func (krl *KeyedRateLimiter) Suppressed() uint64 {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return krl.suppressed
}

// Reset forgets all per-key state.
func (krl *KeyedRateLimiter) Reset() {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	clear(krl.limiters)
}

// Forget drops the state for one key, for keys that will not be seen again.
func (krl *KeyedRateLimiter) Forget(key string) {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	delete(krl.limiters, key)
}
