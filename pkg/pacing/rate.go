// Package pacing runs loops at a fixed period against absolute deadlines.
//
// Each Sleep waits until start + k·period rather than for a fixed relative
// delay, so per-tick work does not accumulate into timing skew over long
// trajectories.
package pacing

import (
	"context"
	"time"
)

// Rate paces a loop at a fixed period. A Rate is owned by one goroutine.
type Rate struct {
	period   time.Duration
	next     time.Time
	overruns int
}

// NewRate creates a Rate whose first deadline is one period from now.
func NewRate(period time.Duration) *Rate {
	return &Rate{
		period: period,
		next:   time.Now().Add(period),
	}
}

// Hz converts a frequency to a period.
func Hz(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / f)
}

// Period returns the configured period.
func (r *Rate) Period() time.Duration {
	return r.period
}

// Overruns returns how many deadlines had already passed when Sleep was called.
func (r *Rate) Overruns() int {
	return r.overruns
}

// Sleep blocks until the next deadline. If the deadline already passed the
// schedule is re-anchored to now instead of bursting to catch up.
func (r *Rate) Sleep(ctx context.Context) error {
	wait := time.Until(r.next)
	if wait <= 0 {
		r.overruns++
		r.next = time.Now().Add(r.period)
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.next = r.next.Add(r.period)
		return nil
	}
}
