package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Schedule maps a 1-based attempt number to the delay before the next try.
type Schedule func(attempt int) time.Duration

// Fixed returns the same delay for every attempt.
func Fixed(d time.Duration) Schedule {
	return func(int) time.Duration { return d }
}

// Exponential doubles the base delay with each attempt.
func Exponential(base time.Duration) Schedule {
	return func(attempt int) time.Duration {
		return base * time.Duration(math.Pow(2, float64(attempt-1)))
	}
}

// LinearCapped grows the delay by step per attempt up to max.
func LinearCapped(step, max time.Duration) Schedule {
	return func(attempt int) time.Duration {
		d := step * time.Duration(attempt)
		if d > max {
			return max
		}
		return d
	}
}

// Policy describes one bounded retry loop.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay yields the wait between attempts. Nil means no wait.
	Delay Schedule
	// Retryable classifies errors. Nil treats every error as retryable.
	Retryable func(error) bool
	// OnWait, when set, is invoked once per second while waiting between
	// attempts so callers can render a live countdown.
	OnWait func(attempt int, remaining time.Duration)
}

// Do runs op until it succeeds, a non-retryable error occurs, the attempt
// cap is exhausted, or ctx is cancelled. Waits between attempts are
// interruptible; on cancellation the context cause is returned so callers
// can tell an operator signal apart from an operation failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cause(ctx)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return cause(ctx)
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.Delay != nil {
			wait := func(remaining time.Duration) {
				if p.OnWait != nil {
					p.OnWait(attempt, remaining)
				}
			}
			if err := Countdown(ctx, p.Delay(attempt), wait); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// Sleep waits for d or until ctx is cancelled, returning the cancellation
// cause in the latter case. Never a blind time.Sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return cause(ctx)
	case <-timer.C:
		return nil
	}
}

// Countdown waits for d, invoking tick with the remaining duration once per
// second (and once up front), interruptible through ctx.
func Countdown(ctx context.Context, d time.Duration, tick func(remaining time.Duration)) error {
	if d <= 0 {
		return cause(ctx)
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if tick != nil {
			tick(remaining.Round(time.Second))
		}
		step := time.Second
		if remaining < step {
			step = remaining
		}
		if err := Sleep(ctx, step); err != nil {
			return err
		}
	}
}

func cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if c := context.Cause(ctx); c != nil {
		return c
	}
	return ctx.Err()
}
