// Package ratelimit provides the token bucket shared by the streaming
// client's outbound path and the historical backfill fetchers.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket is a continuously refilling rate-limit primitive.
// Capacity and refill rate are fixed at construction; tokens never exceed
// capacity and never go negative. There is no fairness guarantee across
// callers sharing one bucket.
type TokenBucket struct {
	mu           sync.Mutex
	capacity     float64
	refillPerSec float64
	tokens       float64
	lastRefill   time.Time

	now func() time.Time
}

// NewTokenBucket creates a bucket filled to capacity.
func NewTokenBucket(capacity, refillPerSec float64) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		tokens:       capacity,
		lastRefill:   time.Now(),
		now:          time.Now,
	}
}

// Take refills the bucket by elapsed time, then attempts to consume cost
// tokens. Returns false without mutation of the token count when fewer than
// cost tokens are available. Non-blocking.
func (b *TokenBucket) Take(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

// Wait blocks until cost tokens can be consumed or ctx is cancelled.
// It sleeps for the computed token deficit rather than polling on a fixed
// short interval, then re-checks under contention.
func (b *TokenBucket) Wait(ctx context.Context, cost float64) error {
	if cost > b.capacity {
		return fmt.Errorf("cost %.2f exceeds bucket capacity %.2f", cost, b.capacity)
	}

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= cost {
			b.tokens -= cost
			b.mu.Unlock()
			return nil
		}
		deficit := cost - b.tokens
		b.mu.Unlock()

		wait := time.Duration(deficit / b.refillPerSec * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the currently available token count after a refill.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillPerSec
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastRefill = now
}
