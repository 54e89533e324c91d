package memory

import (
	"sync"
	"time"
)

// Sweep removes buckets that have been idle for longer than maxIdle and have
// refilled to capacity in the meantime, and returns how many were removed.
// A bucket still below capacity is kept: replacing it with a fresh, full one
// would hand out tokens its refill rate never earned.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	now := l.now()
	cutoff := now.Add(-maxIdle)
	removed := 0

	l.bucket.Range(func(k, v any) bool {
		b := v.(*Bucket)
		if b.retireIfFull(cutoff, now) && l.bucket.CompareAndDelete(k, v) {
			l.count.Add(-1)
			l.observer.ObserveBuckets(-1)
			removed++
		}
		return true
	})
	return removed
}

// StartJanitor sweeps idle buckets every interval. The returned func stops it
// and may be called more than once. Non-positive arguments disable the janitor.
func (l *Limiter) StartJanitor(interval, maxIdle time.Duration) func() {
	if interval <= 0 || maxIdle <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := l.Sweep(maxIdle); n > 0 {
					l.log.Debug().Int("removed", n).Int("live", l.Len()).Msg("janitor sweep")
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}

	l.janitorMu.Lock()
	l.janitors = append(l.janitors, stop)
	l.janitorMu.Unlock()
	return stop
}
