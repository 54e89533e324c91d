package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/rs/zerolog"
)

var _ ratelimit.Limiter = (*Limiter)(nil)

// Limiter keeps one Bucket per identity and one BucketConfig per role.
//
// Buckets live in a sync.Map so that lookups and first-sight inserts for
// different identities never share a lock; each Bucket serializes its own
// refill-and-decide step. The role table is read-mostly and guarded by an
// RWMutex.
type Limiter struct {
	now      func() time.Time
	log      zerolog.Logger
	observer ratelimit.Observer

	mu    sync.RWMutex
	roles map[string]ratelimit.BucketConfig

	bucket sync.Map // identity -> *Bucket
	count  atomic.Int64

	janitorMu sync.Mutex
	janitors  []func()
}

// New builds a limiter with the given role table. Every entry is validated;
// the first invalid one fails construction.
func New(roles map[string]ratelimit.BucketConfig, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		now:      time.Now,
		log:      zerolog.Nop(),
		observer: ratelimit.NopObserver,
		roles:    make(map[string]ratelimit.BucketConfig, len(roles)),
	}
	for _, opt := range opts {
		opt(l)
	}

	for role, cfg := range roles {
		if err := l.RegisterRole(role, cfg); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// RegisterRole inserts or replaces the config for role. Buckets that already
// exist keep the config they were created with.
func (l *Limiter) RegisterRole(role string, cfg ratelimit.BucketConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register role %q: %w", role, err)
	}

	l.mu.Lock()
	l.roles[role] = cfg
	l.mu.Unlock()

	l.log.Info().
		Str("role", role).
		Int("capacity", cfg.Capacity).
		Float64("refill_per_sec", cfg.RefillRatePerSecond).
		Msg("role registered")
	return nil
}

func (l *Limiter) roleConfig(role string) (ratelimit.BucketConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.roles[role]
	return cfg, ok
}

// Allow decides whether identity may proceed under role. An unregistered role
// yields an UnknownRole decision and an error wrapping ratelimit.ErrUnknownRole;
// no bucket is created in that case.
func (l *Limiter) Allow(_ context.Context, identity, role string) (ratelimit.Decision, error) {
	cfg, ok := l.roleConfig(role)
	if !ok {
		l.log.Debug().Str("identity", identity).Str("role", role).Msg("unknown role")
		l.observer.ObserveDecision(role, ratelimit.UnknownRole)
		return ratelimit.Decision{Result: ratelimit.UnknownRole}, fmt.Errorf("%w: %q", ratelimit.ErrUnknownRole, role)
	}

	var dec ratelimit.Decision
	for {
		b := l.bucketFor(identity, role, cfg)
		allowed, tokens, now, live := b.takeLive()
		if !live {
			// swept or removed between lookup and lock
			continue
		}
		dec = b.decision(allowed, tokens, now)
		break
	}

	l.observer.ObserveDecision(role, dec.Result)
	return dec, nil
}

// bucketFor returns the identity's bucket, creating a full one on first sight.
func (l *Limiter) bucketFor(identity, role string, cfg ratelimit.BucketConfig) *Bucket {
	if v, ok := l.bucket.Load(identity); ok {
		return v.(*Bucket)
	}

	v, loaded := l.bucket.LoadOrStore(identity, NewBucket(cfg, l.now))
	if !loaded {
		l.count.Add(1)
		l.observer.ObserveBuckets(1)
		l.log.Debug().Str("identity", identity).Str("role", role).Msg("bucket created")
	}
	return v.(*Bucket)
}

// RemoveIdentity drops the identity's bucket. The next request from it starts
// with a full bucket.
func (l *Limiter) RemoveIdentity(identity string) {
	if v, loaded := l.bucket.LoadAndDelete(identity); loaded {
		v.(*Bucket).retire()
		l.count.Add(-1)
		l.observer.ObserveBuckets(-1)
	}
}

// Tokens reports the identity's current token count without refilling.
func (l *Limiter) Tokens(identity string) (float64, bool) {
	v, ok := l.bucket.Load(identity)
	if !ok {
		return 0, false
	}
	return v.(*Bucket).Tokens(), true
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int { return int(l.count.Load()) }

// Close stops every janitor started on this limiter.
func (l *Limiter) Close() error {
	l.janitorMu.Lock()
	stops := l.janitors
	l.janitors = nil
	l.janitorMu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return nil
}
