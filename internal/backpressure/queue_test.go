package backpressure

import (
	"testing"
	"time"

	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/pkg/config"
)

func TestBucketRefillsOverTime(t *testing.T) {
	b := NewBucket(10, 10)
	if !b.TryConsume(10) {
		t.Fatal("expected to consume all 10 tokens from a full bucket")
	}
	if b.TryConsume(1) {
		t.Fatal("expected empty bucket to reject further consumption")
	}
	b.lastRefill = time.Now().Add(-time.Second)
	if !b.TryConsume(1) {
		t.Fatal("expected one second of refill at 10/s to allow consuming 1 token")
	}
}

func TestQueueAdmitRejectsAtCapacity(t *testing.T) {
	cfg := config.BackpressureConfig{Enabled: true, QueueCapacity: 2, RequestsPerSecond: 1000}
	q := NewQueue("test", cfg)

	if err := q.Admit(); err != nil {
		t.Fatalf("unexpected error on first admit: %v", err)
	}
	if err := q.Admit(); err != nil {
		t.Fatalf("unexpected error on second admit: %v", err)
	}
	err := q.Admit()
	if err == nil {
		t.Fatal("expected third admit to be rejected at capacity 2")
	}
	if !claimerr.Is(err, claimerr.Busy) {
		t.Errorf("expected Busy, got %v", err)
	}

	q.Release()
	// The bucket's burst equals the capacity, so the two admits above also
	// drained it; wind its refill clock back so this admit exercises the
	// freed slot rather than the rate limit.
	q.bucket.lastRefill = time.Now().Add(-time.Second)
	if err := q.Admit(); err != nil {
		t.Fatalf("expected admit to succeed after a release, got %v", err)
	}
}

func TestQueueDisabledNeverRejects(t *testing.T) {
	cfg := config.BackpressureConfig{Enabled: false, QueueCapacity: 1, RequestsPerSecond: 1}
	q := NewQueue("test", cfg)
	for i := 0; i < 10; i++ {
		if err := q.Admit(); err != nil {
			t.Fatalf("disabled queue should never reject, got %v on iteration %d", err, i)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	ceiling := 10 * time.Second
	if d := Backoff(1, ceiling); d != time.Second {
		t.Errorf("first attempt backoff = %v, want 1s", d)
	}
	if d := Backoff(2, ceiling); d != 2*time.Second {
		t.Errorf("second attempt backoff = %v, want 2s", d)
	}
	if d := Backoff(10, ceiling); d != ceiling {
		t.Errorf("large attempt backoff = %v, want capped at %v", d, ceiling)
	}
}
