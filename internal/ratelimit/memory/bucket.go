package memory

import (
	"math"
	"sync"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
)

// Bucket is the token bucket of a single identity. Capacity and refill rate
// are copied from the role config at creation and never change afterwards.
type Bucket struct {
	capacity   float64
	refillRate float64
	now        func() time.Time

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	retired    bool // removed from the limiter; must not admit anything
}

// NewBucket returns a full bucket. A nil clock means time.Now.
func NewBucket(cfg ratelimit.BucketConfig, now func() time.Time) *Bucket {
	if now == nil {
		now = time.Now
	}
	return &Bucket{
		capacity:   float64(cfg.Capacity),
		refillRate: cfg.RefillRatePerSecond,
		now:        now,
		tokens:     float64(cfg.Capacity),
		lastRefill: now(),
	}
}

// Allow refills the bucket for the time elapsed since the last call and
// consumes one token if one is available.
func (b *Bucket) Allow() bool {
	ok, _, _ := b.take()
	return ok
}

func (b *Bucket) take() (bool, float64, time.Time) {
	ok, tokens, now, _ := b.takeLive()
	return ok, tokens, now
}

// takeLive is take for buckets owned by a Limiter. live is false when the
// bucket was retired before the lock was acquired; nothing is consumed then
// and the caller must look the identity up again.
func (b *Bucket) takeLive() (allowed bool, tokens float64, now time.Time, live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now = b.now()
	if b.retired {
		return false, b.tokens, now, false
	}
	b.refill(now)

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, b.tokens, now, true
	}
	return false, b.tokens, now, true
}

// retireIfFull retires the bucket when it has been idle since cutoff and
// would be back at capacity by now, so a fresh bucket behaves identically.
func (b *Bucket) retireIfFull(cutoff, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retired || !b.lastRefill.Before(cutoff) {
		return false
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if b.tokens+elapsed*b.refillRate < b.capacity {
		return false
	}
	b.retired = true
	return true
}

func (b *Bucket) retire() {
	b.mu.Lock()
	b.retired = true
	b.mu.Unlock()
}

// refill must be called with mu held.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		// clock went backwards: no refill, and keep the later timestamp so the
		// same interval is not credited twice once the clock catches up
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// Tokens reports the current token count without applying refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *Bucket) LastRefill() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefill
}

func (b *Bucket) Capacity() int { return int(b.capacity) }

func (b *Bucket) RefillRate() float64 { return b.refillRate }

// decision builds the caller-facing view of a take result.
func (b *Bucket) decision(allowed bool, tokens float64, now time.Time) ratelimit.Decision {
	d := ratelimit.Decision{
		Result:    ratelimit.Allowed,
		Limit:     int(b.capacity),
		Remaining: int(math.Floor(tokens)),
	}
	if !allowed {
		d.Result = ratelimit.Denied
		d.RetryAfter = secondsToDuration((1.0 - tokens) / b.refillRate)
	}

	// estimate reset time (to full)
	if tokens >= b.capacity {
		d.ResetUnixSec = now.Unix()
	} else {
		d.ResetUnixSec = now.Add(secondsToDuration((b.capacity - tokens) / b.refillRate)).Unix()
	}
	return d
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Ceil(sec * float64(time.Second)))
}
