package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"packmule/internal/checkpoint"
	"packmule/internal/retry"
	"packmule/internal/storage"
)

// runUpload pushes eligible items to remote storage one at a time, in list
// order, to avoid contending for upload bandwidth. Cancel-all and skip are
// honored before and during every retry attempt; the backoff between
// attempts is an interruptible countdown, never a blind sleep.
func (r *Runner) runUpload(ctx context.Context, items []*WorkItem) {
	for i, item := range items {
		if !item.Eligible() {
			r.propagateExclusion(item, PhaseUpload)
			continue
		}
		if r.ctrl.ConsumeCancel() {
			r.cancelRemaining(PhaseUpload, items[i:])
			return
		}

		itemCtx, release := r.ctrl.BeginItem(item.ID)
		start := time.Now()
		outcome := r.uploadOne(itemCtx, item)
		release()

		if r.metrics != nil {
			r.metrics.ObservePhaseDuration(string(PhaseUpload), time.Since(start))
		}
		r.record(item, PhaseUpload, outcome)
	}
}

func (r *Runner) uploadOne(ctx context.Context, item *WorkItem) Outcome {
	if r.uploader == nil {
		return Outcome{Kind: OutcomeFailed, Reason: "no uploader configured"}
	}

	path := item.UploadPath()
	if reused := r.reuseCompletedUpload(item, path); reused {
		return Outcome{Kind: OutcomeSuccess}
	}

	scope := string(PhaseUpload) + "/" + item.Name
	err := retry.Do(ctx, retry.Policy{
		Attempts: r.opts.UploadRetries,
		Delay:    retry.Exponential(r.opts.RetryBackoff),
		OnWait: func(attempt int, remaining time.Duration) {
			r.status(fmt.Sprintf("upload of %s failed (attempt %d/%d), retrying in %s",
				item.Name, attempt, r.opts.UploadRetries, remaining))
		},
	}, func(ctx context.Context) error {
		if r.metrics != nil {
			r.metrics.IncUploadAttempt()
		}
		// Every attempt negotiates a fresh session and restarts from zero.
		r.reporter.Reset(scope)
		result, err := r.uploader.Upload(ctx, path, func(fraction float64) {
			r.reporter.Report(scope, fraction*100, "uploading")
		}, r.status)
		if err != nil {
			return err
		}
		item.Upload = result
		return nil
	})

	outcome := classify(err)
	if outcome.Kind == OutcomeSuccess && r.metrics != nil && item.Upload != nil {
		r.metrics.AddUploadBytes(item.Upload.Size)
	}
	return outcome
}

// reuseCompletedUpload consults the checkpoint store for a finished upload
// of the identical artifact (same path and size) and reuses its durable
// link instead of re-sending the bytes.
func (r *Runner) reuseCompletedUpload(item *WorkItem, path string) bool {
	if !r.opts.Resume || r.store == nil {
		return false
	}

	record, err := r.store.GetItem(item.ID)
	if err != nil || record == nil {
		return false
	}
	if record.Status != checkpoint.StatusCompleted ||
		record.Phase != string(PhaseUpload) ||
		record.DownloadURL == "" ||
		record.ArchivePath != path {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != record.ArchiveSize {
		return false
	}

	item.Upload = &storage.UploadResult{
		DownloadURL: record.DownloadURL,
		FileName:    record.RemoteName,
		Size:        record.RemoteSize,
	}
	r.logger.Info("reusing completed upload from checkpoint",
		zap.String("item", item.Name),
		zap.String("url", record.DownloadURL),
	)
	r.status(fmt.Sprintf("skipping upload of %s: already completed", item.Name))
	return true
}

// runConvert trades durable links for converted ones. Conversion never
// fails an item; the converter degrades to the original reference. The loop
// honors operator signals like the sequential phases do: a cancelled run
// keeps its durable links, and each conversion runs under a registered item
// context so cancel-all or skip interrupts the retry countdowns.
func (r *Runner) runConvert(ctx context.Context, items []*WorkItem) {
	for _, item := range items {
		if item.Upload == nil {
			continue
		}
		if r.ctrl.Cancelled() {
			return
		}

		itemCtx, release := r.ctrl.BeginItem(item.ID)
		converted := r.converter.Convert(itemCtx, item.Upload.DownloadURL, r.status)
		release()

		item.Link = converted
		if converted == item.Upload.DownloadURL && r.metrics != nil {
			r.metrics.IncConversionDegraded()
		}
	}
}
