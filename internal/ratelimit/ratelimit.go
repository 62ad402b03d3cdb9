// Package ratelimit implements per-client token-bucket admission control.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket tracks one client's remaining tokens and the time they were last
// observed. Tokens are real-valued so refill accrues continuously.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a token-bucket rate limiter keyed by client identifier. Buckets
// refill at maxTokens/window per second, capped at maxTokens. Buckets idle
// longer than the janitor's threshold are evicted; an idle bucket is full
// again by then, so eviction never changes an admission decision.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxTokens float64
	window    time.Duration

	now func() time.Time
}

// New creates a limiter allowing maxRequests per window for each client.
func New(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*bucket),
		maxTokens: float64(maxRequests),
		window:    window,
		now:       time.Now,
	}
}

// Check consumes one token for the client if available. When denied, it
// reports the whole seconds until a token will have refilled; retryAfter is
// always non-negative.
func (l *Limiter) Check(clientID string) (allowed bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	refillRate := l.maxTokens / l.window.Seconds()

	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastSeen: now}
		l.buckets[clientID] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens = math.Min(l.maxTokens, b.tokens+elapsed*refillRate)
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	retryAfter = int(math.Ceil((1 - b.tokens) / refillRate))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Limit returns the configured per-window request limit.
func (l *Limiter) Limit() int {
	return int(l.maxTokens)
}

// Sweep removes buckets that have been idle longer than maxIdle. It returns
// the number of evicted buckets.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(l.buckets, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor launches a background sweep of idle buckets every interval,
// evicting buckets untouched for three refill windows. It stops when done is
// closed or cancelled.
func (l *Limiter) StartJanitor(done <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Sweep(3 * l.window)
			}
		}
	}()
}

// size returns the current bucket count, for tests.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
