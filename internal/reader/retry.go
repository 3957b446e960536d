package reader

import (
	"context"
	"time"
)

// Backoff describes a bounded exponential retry schedule: Attempts calls in
// total, waiting Base, 2*Base, 4*Base ... between them, capped at Max.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Retry calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := b.Base

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return err
		}
		wait *= 2
		if b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}
	return err
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
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
