// Package retry provides the cancellable fixed-interval loops used for
// readiness probing and config polling.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned for a policy with no attempts or no interval.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// Validate enforces Attempts >= 1 and Interval > 0.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1, got %d", ErrInvalidPolicy, p.Attempts)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidPolicy, p.Interval)
	}
	return nil
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Do calls fn until it succeeds, the policy's attempts are used up, or ctx
// is cancelled. It sleeps Interval between attempts but not after the last.
// attempt is 1-based.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == p.Attempts {
			break
		}
		if err := Sleep(ctx, p.Interval); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: p.Attempts, Last: lastErr}
}

// Poll evaluates cond immediately and then every interval until it reports
// true, returns an error, or ctx is cancelled. There is no attempt limit.
func Poll(ctx context.Context, interval time.Duration, cond func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidPolicy, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
