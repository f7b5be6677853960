package util

import (
	"context"
	"errors"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Attempts  int           // total calls, including the first
	BaseDelay time.Duration // delay after the first failure
	MaxDelay  time.Duration // cap on any single delay; zero means uncapped
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. RetryBackoff returns the
// wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryBackoff calls fn up to b.Attempts times, doubling the delay after each
// failure up to b.MaxDelay. It returns nil on the first success or the last
// error. Errors wrapped with Permanent stop the loop and are returned
// unwrapped.
func RetryBackoff(ctx context.Context, b Backoff, fn func() error) error {
	var err error
	delay := b.BaseDelay
	attempts := max(b.Attempts, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < attempts-1 {
			if err := Sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
			if b.MaxDelay > 0 && delay > b.MaxDelay {
				delay = b.MaxDelay
			}
		}
	}

	return err
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
