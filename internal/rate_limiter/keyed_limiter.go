// Package ratelimiter throttles outbound stream events per key.
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

// KeyedLimiter holds one token bucket per key (a thread id, for typing and
// read events) and forgets keys that have been idle for longer than TTL.
type KeyedLimiter struct {
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	mu       sync.Mutex
	cancel   context.CancelFunc
	rate     rate.Limit
	burst    int
	CleanupOpts
}

func NewKeyedLimiter(requests int, window time.Duration, cleanupOpts CleanupOpts) *KeyedLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &KeyedLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSeen:    make(map[string]time.Time),
		cancel:      cancel,
		rate:        rate.Every(window / time.Duration(requests)),
		burst:       requests,
		CleanupOpts: cleanupOpts,
	}

	if rl.Interval > 0 {
		go rl.cleanup(ctx)
	}

	return rl
}

func (rl *KeyedLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()

			for key, ls := range rl.lastSeen {
				if time.Since(ls) > rl.TTL {
					delete(rl.limiters, key)
					delete(rl.lastSeen, key)
				}
			}

			rl.mu.Unlock()
		}
	}
}

// Allow reports whether an event for key may be sent now.
func (rl *KeyedLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.limiters[key]
	if !ok {
		bucket = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = bucket
	}

	rl.lastSeen[key] = time.Now()
	return bucket.Allow()
}

// Len is the number of keys currently tracked.
func (rl *KeyedLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the cleanup loop.
func (rl *KeyedLimiter) Stop() {
	rl.cancel()
}
