// Package admin serves the operator-facing login and static asset surface.
// It is a narrow, self-contained neighbor of the core proxy: nothing in
// pkg/keypool, pkg/directive, pkg/route, or pkg/upstream imports it, and it
// sees configuration only through a HashProvider callback that returns the
// admin password hash.
package admin

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter answers whether a login attempt from remoteAddr is currently
// allowed. The default implementation is a per-IP token bucket.
type LoginLimiter interface {
	Allow(remoteAddr string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter is the default LoginLimiter: one token bucket per
// remote address, evicted lazily when idle past evictAfter.
type TokenBucketLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       rate.Limit
	burst      int
	evictAfter time.Duration
}

// NewTokenBucketLimiter builds a limiter allowing r logins/sec per address
// with burst b, evicting addresses idle for longer than evictAfter.
func NewTokenBucketLimiter(r rate.Limit, b int, evictAfter time.Duration) *TokenBucketLimiter {
	if evictAfter <= 0 {
		evictAfter = 3 * time.Minute
	}
	l := &TokenBucketLimiter{
		buckets:    make(map[string]*bucket),
		rate:       r,
		burst:      b,
		evictAfter: evictAfter,
	}
	go l.evictLoop()
	return l
}

// Allow reports whether a login attempt from remoteAddr may proceed,
// consuming a token if so.
func (l *TokenBucketLimiter) Allow(remoteAddr string) bool {
	l.mu.Lock()
	b, ok := l.buckets[remoteAddr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[remoteAddr] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

func (l *TokenBucketLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for addr, b := range l.buckets {
			if time.Since(b.lastSeen) > l.evictAfter {
				delete(l.buckets, addr)
			}
		}
		l.mu.Unlock()
	}
}
