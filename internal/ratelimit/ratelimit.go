// Package ratelimit provides per-host token-bucket rate limiting for
// outbound weather API calls. Every fetch acquires a token before
// connecting; acquisition blocks until the per-host minimum interval has
// elapsed.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously refilling token bucket. Callers block in
// Wait until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and refill
// rate in tokens per second.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Registry maps hostnames to their buckets. Hosts without an explicit
// bucket share a default.
type Registry struct {
	mu       sync.Mutex
	buckets  map[string]*TokenBucket
	defaults float64
}

// NewRegistry creates a registry whose unknown hosts refill at
// defaultRate tokens per second.
func NewRegistry(defaultRate float64) *Registry {
	return &Registry{
		buckets:  make(map[string]*TokenBucket),
		defaults: defaultRate,
	}
}

// Set installs a bucket for a host. Capacity 1 makes the bucket enforce a
// strict minimum interval of 1/rate between acquisitions.
func (r *Registry) Set(host string, ratePerSecond float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[host] = NewTokenBucket(1, ratePerSecond)
}

// Wait acquires a token for the host, creating a default bucket on first
// use.
func (r *Registry) Wait(ctx context.Context, host string) error {
	r.mu.Lock()
	b, ok := r.buckets[host]
	if !ok {
		b = NewTokenBucket(1, r.defaults)
		r.buckets[host] = b
	}
	r.mu.Unlock()
	return b.Wait(ctx)
}
