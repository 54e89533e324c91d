package memory

import (
	"time"

	"github.com/AlexKimmel/RoleGate/internal/ratelimit"
	"github.com/rs/zerolog"
)

type Option func(*Limiter)

// WithClock replaces time.Now. Every bucket created by the limiter reads the same clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) {
		l.log = logger.With().Str("component", "ratelimit").Logger()
	}
}

// WithObserver reports decisions and bucket counts, e.g. to Prometheus.
func WithObserver(o ratelimit.Observer) Option {
	return func(l *Limiter) {
		if o != nil {
			l.observer = o
		}
	}
}
