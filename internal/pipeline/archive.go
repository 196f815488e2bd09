package pipeline

import (
	"context"
	"sync"
	"time"
)

// runArchive fans out one task per eligible item and joins them all before
// the phase completes. No ordering is guaranteed among tasks; a failure in
// one never aborts its siblings. Each task reports percent progress through
// the shared rate-limited reporter.
func (r *Runner) runArchive(ctx context.Context, items []*WorkItem) {
	if r.ctrl.ConsumeCancel() {
		r.cancelRemaining(PhaseArchive, items)
		return
	}

	var sem chan struct{}
	if r.opts.ArchiveParallel > 0 {
		sem = make(chan struct{}, r.opts.ArchiveParallel)
	}

	var wg sync.WaitGroup
	for _, item := range items {
		if !item.Eligible() {
			r.propagateExclusion(item, PhaseArchive)
			continue
		}

		wg.Add(1)
		go func(item *WorkItem) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			r.archiveOne(ctx, item)
		}(item)
	}
	wg.Wait()
}

// archiveOne runs the archiving collaborator for a single item. The task
// context responds to cancel-all but not to skip; skip only targets the
// sequential phases.
func (r *Runner) archiveOne(ctx context.Context, item *WorkItem) {
	if r.archiver == nil {
		r.record(item, PhaseArchive, Outcome{Kind: OutcomeFailed, Reason: "no archiver configured"})
		return
	}

	taskCtx, release := r.ctrl.BeginTask(item.ID)
	defer release()

	if r.metrics != nil {
		r.metrics.ArchiveTaskStarted()
		defer r.metrics.ArchiveTaskFinished()
	}

	scope := string(PhaseArchive) + "/" + item.Name
	request := ArchiveRequest{
		SourcePath: item.SourcePath,
		DestPath:   r.archiveDestPath(item),
		Format:     r.opts.ArchiveFormat,
		Level:      r.opts.ArchiveLevel,
		Password:   r.opts.ArchivePassword,
	}

	start := time.Now()
	result, err := r.archiver.Compress(taskCtx, request, func(percent float64) {
		r.reporter.Report(scope, percent, "archiving")
	})
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.ObservePhaseDuration(string(PhaseArchive), duration)
	}

	outcome := classify(err)
	if outcome.Kind == OutcomeSuccess {
		item.Archive = &ArchiveDescriptor{
			Path:     result.Path,
			Size:     result.Size,
			Duration: duration,
		}
	}
	r.record(item, PhaseArchive, outcome)
}
