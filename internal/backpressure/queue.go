package backpressure

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/pkg/config"
)

// Queue is one worker's or caller class's bounded admission gate: a token
// bucket bounds sustained throughput, and an explicit depth counter bounds
// how much work can be queued behind it. Once either is exhausted, Admit
// returns a Busy error; the rate-limit case carries a suggested retry-after.
type Queue struct {
	mu       sync.Mutex
	name     string
	bucket   *Bucket
	capacity int
	depth    int
	enabled  bool
}

// NewQueue builds a Queue named name (used in error messages and logs),
// bounded to cfg.QueueCapacity in-flight items and cfg.RequestsPerSecond
// sustained admissions, with burst equal to the queue capacity.
func NewQueue(name string, cfg config.BackpressureConfig) *Queue {
	return &Queue{
		name:     name,
		bucket:   NewBucket(float64(cfg.QueueCapacity), cfg.RequestsPerSecond),
		capacity: cfg.QueueCapacity,
		enabled:  cfg.Enabled,
	}
}

// Admit reserves one slot. Callers that succeed must call Release when the
// work completes. Returns a claimerr.Busy error if the queue is full or the
// token bucket is exhausted.
func (q *Queue) Admit() error {
	if !q.enabled {
		return nil
	}

	q.mu.Lock()
	if q.depth >= q.capacity {
		q.mu.Unlock()
		return claimerr.BusyErr("backpressure.Admit", fmt.Errorf("queue %q is at capacity (%d)", q.name, q.capacity))
	}
	q.mu.Unlock()

	if !q.bucket.TryConsume(1) {
		retryAfter := q.bucket.TimeToWait(1)
		return claimerr.BusyErr("backpressure.Admit", fmt.Errorf("queue %q rate limit exceeded, retry after %s", q.name, retryAfter))
	}

	q.mu.Lock()
	q.depth++
	q.mu.Unlock()
	return nil
}

// Release frees the slot Admit reserved.
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.depth > 0 {
		q.depth--
	}
}

// Depth returns the current number of in-flight admissions.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Backoff computes the exponential backoff delay for the attempt'th retry
// (1-indexed), doubling from a 1-second base and capped at ceiling. Used by
// background janitors retrying Busy/Unavailable/Timeout faults internally;
// API callers make their own retry decision using the RetryAfter hint
// embedded in a Busy error's message.
func Backoff(attempt int, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if delay > ceiling {
		return ceiling
	}
	return delay
}
