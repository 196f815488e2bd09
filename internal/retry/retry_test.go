package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDoSucceedsMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsAtAttemptCap(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func(context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
	if !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoReturnsCancellationCause(t *testing.T) {
	operator := errors.New("stopped by operator")
	ctx, cancel := context.WithCancelCause(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Policy{
			Attempts: 5,
			Delay:    Fixed(time.Minute),
		}, func(context.Context) error {
			return errors.New("transient")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel(operator)

	select {
	case err := <-done:
		if !errors.Is(err, operator) {
			t.Fatalf("expected the cancellation cause, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoWaitsBetweenAttempts(t *testing.T) {
	var waits []int
	start := time.Now()
	err := Do(context.Background(), Policy{
		Attempts: 3,
		Delay:    Fixed(30 * time.Millisecond),
		OnWait: func(attempt int, _ time.Duration) {
			waits = append(waits, attempt)
		},
	}, func(context.Context) error {
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("attempts were not spaced out, elapsed %s", elapsed)
	}
	if len(waits) == 0 {
		t.Fatal("OnWait never fired")
	}
	if waits[0] != 1 {
		t.Fatalf("first wait should follow attempt 1, got %d", waits[0])
	}
}

func TestCountdownInterruptible(t *testing.T) {
	operator := errors.New("stopped")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(operator)
	}()

	err := Countdown(ctx, time.Minute, nil)
	if !errors.Is(err, operator) {
		t.Fatalf("expected cancellation cause, got %v", err)
	}
}

func TestCountdownTicks(t *testing.T) {
	var ticks int
	if err := Countdown(context.Background(), 50*time.Millisecond, func(time.Duration) {
		ticks++
	}); err != nil {
		t.Fatalf("countdown failed: %v", err)
	}
	if ticks == 0 {
		t.Fatal("expected at least one tick")
	}
}

func TestSchedules(t *testing.T) {
	if got := Fixed(time.Second)(7); got != time.Second {
		t.Errorf("Fixed(1s)(7) = %s", got)
	}
	if got := Exponential(2 * time.Second)(3); got != 8*time.Second {
		t.Errorf("Exponential(2s)(3) = %s, want 8s", got)
	}
	if got := LinearCapped(5*time.Second, time.Minute)(2); got != 10*time.Second {
		t.Errorf("LinearCapped(5s,1m)(2) = %s, want 10s", got)
	}
	if got := LinearCapped(5*time.Second, time.Minute)(30); got != time.Minute {
		t.Errorf("LinearCapped(5s,1m)(30) = %s, want 1m", got)
	}
}
