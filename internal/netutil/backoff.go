package netutil

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// backoffCap is the plateau delay once exponential growth passes it.
	backoffCap = 64 * time.Second
	// transportRecheck is the floor spacing between attempts after a
	// transport failure: the loop waits max(0, transportRecheck - delay).
	transportRecheck = 30 * time.Second
)

// Backoff tracks the retry delay schedule for one upstream request loop:
// delay_ms = (2^r + U[0,1)) * 1000 while below the 64s cap, then
// 64s + U[0,1s) on the plateau. Retries are unbounded by design; the
// pipelines own a context to stop a stuck loop.
type Backoff struct {
	initial time.Duration
	delay   time.Duration
	retries int

	// randFloat is injectable for deterministic tests.
	randFloat func() float64
}

// NewBackoff creates a schedule whose first sleep is the configured cooldown
// (zero for in-pipeline worker instances).
func NewBackoff(initial time.Duration) *Backoff {
	if initial < 0 {
		initial = 0
	}
	return &Backoff{
		initial:   initial,
		delay:     initial,
		randFloat: rand.Float64,
	}
}

// Delay returns the sleep applied before the next attempt.
func (b *Backoff) Delay() time.Duration { return b.delay }

// Retries returns how many rate-limit/5xx responses have been observed.
func (b *Backoff) Retries() int { return b.retries }

// Advance records a retryable response (429/5xx) and moves the schedule one
// step: exponential growth with jitter until the cap, then capped jitter.
func (b *Backoff) Advance() time.Duration {
	if b.delay >= backoffCap {
		b.delay = backoffCap + time.Duration(b.randFloat()*1000)*time.Millisecond
		return b.delay
	}
	ms := (math.Exp2(float64(b.retries)) + b.randFloat()) * 1000
	b.retries++
	d := time.Duration(ms) * time.Millisecond
	if d >= backoffCap {
		d = backoffCap + time.Duration(b.randFloat()*1000)*time.Millisecond
	}
	b.delay = d
	return b.delay
}

// TransportWait returns the extra wait after a transport failure. The retry
// counter and delay are intentionally untouched.
func (b *Backoff) TransportWait() time.Duration {
	w := transportRecheck - b.delay
	if w < 0 {
		return 0
	}
	return w
}

// Wait sleeps for d or until ctx is done, whichever comes first.
// Returns ctx.Err() when interrupted.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
