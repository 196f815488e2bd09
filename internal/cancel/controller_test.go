package cancel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func assertCancelled(t *testing.T, ctx context.Context, want error) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context never cancelled")
	}
	if cause := context.Cause(ctx); !errors.Is(cause, want) {
		t.Fatalf("cause = %v, want %v", cause, want)
	}
}

func TestSkipCancelsCurrentItemOnly(t *testing.T) {
	ctrl := NewController(context.Background())

	ctxA, releaseA := ctrl.BeginItem("a")
	taskCtx, releaseTask := ctrl.BeginTask("parallel")
	defer releaseTask()

	ctrl.Skip()
	assertCancelled(t, ctxA, ErrSkip)

	if taskCtx.Err() != nil {
		t.Fatal("skip must not touch parallel task contexts")
	}
	releaseA()
}

func TestSkipResetsForNextItem(t *testing.T) {
	ctrl := NewController(context.Background())

	ctxA, releaseA := ctrl.BeginItem("a")
	ctrl.Skip()
	assertCancelled(t, ctxA, ErrSkip)
	releaseA()

	ctxB, releaseB := ctrl.BeginItem("b")
	defer releaseB()
	if ctxB.Err() != nil {
		t.Fatal("previous skip leaked into the next item")
	}
	if ctrl.Cancelled() {
		t.Fatal("skip must not mark the run cancelled")
	}
}

func TestSkipWithNothingInFlight(t *testing.T) {
	ctrl := NewController(context.Background())
	ctrl.Skip() // must not panic or latch anything

	ctx, release := ctrl.BeginItem("a")
	defer release()
	if ctx.Err() != nil {
		t.Fatal("stale skip applied to a later item")
	}
}

func TestCancelAllHitsEveryActiveContext(t *testing.T) {
	ctrl := NewController(context.Background())

	itemCtx, releaseItem := ctrl.BeginItem("a")
	defer releaseItem()
	taskCtx, releaseTask := ctrl.BeginTask("b")
	defer releaseTask()

	ctrl.CancelAll()

	assertCancelled(t, itemCtx, ErrCancelAll)
	assertCancelled(t, taskCtx, ErrCancelAll)
	if !ctrl.Cancelled() {
		t.Fatal("Cancelled() should be sticky after CancelAll")
	}
}

func TestCancelAllAppliesToLaterRegistrations(t *testing.T) {
	ctrl := NewController(context.Background())
	ctrl.CancelAll()

	ctx, release := ctrl.BeginItem("late")
	defer release()
	assertCancelled(t, ctx, ErrCancelAll)
}

func TestConsumeCancelFiresOnce(t *testing.T) {
	ctrl := NewController(context.Background())

	if ctrl.ConsumeCancel() {
		t.Fatal("no demand should be pending initially")
	}
	ctrl.CancelAll()
	if !ctrl.ConsumeCancel() {
		t.Fatal("pending demand not observed")
	}
	if ctrl.ConsumeCancel() {
		t.Fatal("demand must be consumed exactly once")
	}
	if !ctrl.Cancelled() {
		t.Fatal("consuming the demand must not clear the sticky flag")
	}
}

func TestBaseContextPropagates(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	ctrl := NewController(base)

	ctx, release := ctrl.BeginItem("a")
	defer release()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("base cancellation did not reach the item context")
	}
}

func TestCurrentItem(t *testing.T) {
	ctrl := NewController(context.Background())
	if got := ctrl.CurrentItem(); got != "" {
		t.Fatalf("CurrentItem = %q before any item", got)
	}

	_, release := ctrl.BeginItem("a")
	if got := ctrl.CurrentItem(); got != "a" {
		t.Fatalf("CurrentItem = %q, want a", got)
	}
	release()
	if got := ctrl.CurrentItem(); got != "" {
		t.Fatalf("CurrentItem = %q after release", got)
	}
}

func TestSignalClassification(t *testing.T) {
	if !IsSkip(ErrSkip) || IsSkip(ErrCancelAll) {
		t.Error("IsSkip misclassifies")
	}
	if !IsCancelAll(ErrCancelAll) || IsCancelAll(ErrSkip) {
		t.Error("IsCancelAll misclassifies")
	}
}
