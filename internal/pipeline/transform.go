package pipeline

import (
	"context"
	"fmt"
	"time"
)

// runTransform processes items strictly one at a time: the collaborator
// mutates the single shared target slot, so the phase is single-flight
// system-wide. A pending cancel-all marks every not-yet-started item
// Cancelled without invoking the collaborator.
func (r *Runner) runTransform(ctx context.Context, items []*WorkItem) {
	for i, item := range items {
		if !item.Eligible() {
			r.propagateExclusion(item, PhaseTransform)
			continue
		}
		if r.ctrl.ConsumeCancel() {
			r.cancelRemaining(PhaseTransform, items[i:])
			return
		}

		itemCtx, release := r.ctrl.BeginItem(item.ID)
		start := time.Now()
		err := r.transformOne(itemCtx, item)
		release()

		if r.metrics != nil {
			r.metrics.ObservePhaseDuration(string(PhaseTransform), time.Since(start))
		}
		r.record(item, PhaseTransform, classify(err))
	}
}

func (r *Runner) transformOne(ctx context.Context, item *WorkItem) error {
	if r.transformer == nil {
		return fmt.Errorf("no transformer configured")
	}

	releaseSlot, err := r.slot.Acquire(item.ID)
	if err != nil {
		return err
	}
	defer releaseSlot()

	return r.transformer.Apply(ctx, item.SourcePath)
}
