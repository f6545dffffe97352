// Package ratelimit provides admission control for registry lookups: a
// process-wide token bucket shared by all workers, and a lightweight
// counter for throttling progress log emission.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket with continuous refill. All lookup workers
// in a process share one Bucket; the critical section is O(1).
type Bucket struct {
	mu       sync.Mutex
	tokens   float64
	last     time.Time
	capacity float64
	qps      float64

	now func() time.Time // overridable for tests
}

// NewBucket returns a bucket holding up to burst tokens, refilled at
// qps tokens per second. The bucket starts full.
func NewBucket(qps float64, burst int) *Bucket {
	return &Bucket{
		tokens:   float64(burst),
		last:     time.Now(),
		capacity: float64(burst),
		qps:      qps,
		now:      time.Now,
	}
}

// Acquire consumes one token if available and returns zero. Otherwise
// it returns the wait needed for one token to accrue, without consuming
// anything; the caller is expected to sleep and call Acquire again.
// The wait is a single-pass estimate: concurrent callers may compute
// overlapping waits and briefly exceed qps on wakeup.
func (b *Bucket) Acquire() time.Duration {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if add := now.Sub(b.last).Seconds() * b.qps; add > 0 {
		b.tokens += add
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return 0
	}
	need := 1.0 - b.tokens
	return time.Duration(need / b.qps * float64(time.Second))
}

// Wait blocks until a token has been consumed.
func (b *Bucket) Wait() {
	for {
		w := b.Acquire()
		if w <= 0 {
			return
		}
		time.Sleep(w)
	}
}
