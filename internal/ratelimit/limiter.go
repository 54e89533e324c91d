package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownRole is returned when a request references a role with no registered config.
	ErrUnknownRole = errors.New("unknown role")

	// ErrInvalidConfig is returned when a role is registered with a non-positive capacity or refill rate.
	ErrInvalidConfig = errors.New("invalid bucket config")
)

// BucketConfig is the burst/refill policy of one role.
type BucketConfig struct {
	Capacity            int     // max tokens (burst size)
	RefillRatePerSecond float64 // tokens added per second
}

func (c BucketConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	// NaN fails this check too
	if !(c.RefillRatePerSecond > 0) {
		return fmt.Errorf("%w: refill rate must be positive, got %v", ErrInvalidConfig, c.RefillRatePerSecond)
	}
	return nil
}

type Result int

const (
	Allowed Result = iota
	Denied
	UnknownRole
)

func (r Result) String() string {
	switch r {
	case Allowed:
		return "Allowed"
	case Denied:
		return "Denied"
	case UnknownRole:
		return "UnknownRole"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

type Decision struct {
	Result       Result
	Limit        int           // bucket capacity
	Remaining    int           // whole tokens left after this request
	RetryAfter   time.Duration // until the next token, zero when allowed
	ResetUnixSec int64         // when the bucket would be full if no more traffic
}

func (d Decision) Allowed() bool { return d.Result == Allowed }

// Observer receives admission outcomes and bucket lifecycle events.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveDecision(role string, r Result)
	ObserveBuckets(delta int)
}

type Limiter interface {
	RegisterRole(role string, cfg BucketConfig) error
	Allow(ctx context.Context, identity, role string) (Decision, error)
	RemoveIdentity(identity string)
	Close() error
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(string, Result) {}
func (nopObserver) ObserveBuckets(int)             {}

// NopObserver discards everything.
var NopObserver Observer = nopObserver{}
