package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is an ascending schedule of base delays, each perturbed by a small
// uniform random jitter to desynchronize retries against the same endpoint.
// The zero value never sleeps and allows a single attempt.
type Backoff struct {
	// Delays are the base waits applied between consecutive attempts,
	// in order. The retry budget is len(Delays): a caller makes one initial
	// attempt plus one retry per delay.
	Delays []time.Duration
	// MaxJitter bounds the random addition to each delay. Zero disables
	// jitter.
	MaxJitter time.Duration
}

// Attempts returns the total attempt budget: the initial attempt plus one
// retry per scheduled delay.
func (b Backoff) Attempts() int {
	return len(b.Delays) + 1
}

// Wait sleeps for the delay scheduled after the given zero-based attempt,
// plus jitter. It returns the context's error if canceled mid-sleep, so long
// backoffs remain interruptible. Attempts beyond the schedule do not sleep.
func (b Backoff) Wait(ctx context.Context, attempt int) error {
	return b.WaitAtLeast(ctx, attempt, 0)
}

// WaitAtLeast is Wait with a floor: when an endpoint supplies its own
// retry-after hint that exceeds the scheduled base delay, the hint wins.
func (b Backoff) WaitAtLeast(ctx context.Context, attempt int, floor time.Duration) error {
	if attempt < 0 || attempt >= len(b.Delays) {
		return ctx.Err()
	}

	d := b.Delays[attempt]
	if floor > d {
		d = floor
	}
	if b.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.MaxJitter)))
	}
	if d <= 0 {
		return ctx.Err()
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
