package priocq

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket shapes outbound bytes to a sustained rate with a burst allowance.
type TokenBucket struct {
	clock clock.Clock

	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
}

// NewTokenBucket returns a full bucket. A capacity of zero or less uses one
// second worth of tokens.
func NewTokenBucket(clk clock.Clock, ratePerSec, capacity int64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &TokenBucket{clock: clk, capacity: capacity, tokens: capacity, rate: ratePerSec, last: clk.Now()}
}

// Allow tries to take n tokens. When there are not enough it takes nothing
// and returns how long until there will be.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.capacity {
		// never satisfiable in one go; let it through once the bucket is full
		n = b.capacity
	}
	now := b.clock.Now()
	if dt := now.Sub(b.last); dt > 0 {
		add := b.rate * dt.Nanoseconds() / int64(time.Second)
		if add > 0 {
			b.tokens = min(b.tokens+add, b.capacity)
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	return false, time.Duration(need * int64(time.Second) / b.rate)
}

// Wait blocks until n tokens were taken or ctx ends.
func (b *TokenBucket) Wait(ctx context.Context, n int64) error {
	for {
		ok, wait := b.Allow(n)
		if ok {
			return nil
		}
		t := b.clock.Timer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
