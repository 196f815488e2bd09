package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// runCleanup removes leftovers of earlier runs for every item: a stale
// archive at the destination path and any partial file next to it. Failures
// are logged and swallowed; cleanup never excludes an item and is not gated
// by cancellation signals.
func (r *Runner) runCleanup(ctx context.Context, items []*WorkItem) {
	for _, item := range items {
		start := time.Now()
		if err := r.cleanupOne(item); err != nil {
			r.logger.Warn("cleanup left residue behind",
				zap.String("item", item.Name),
				zap.Error(err),
			)
		}
		if r.metrics != nil {
			r.metrics.ObservePhaseDuration(string(PhaseCleanup), time.Since(start))
		}
		r.record(item, PhaseCleanup, Outcome{Kind: OutcomeSuccess})
	}
}

func (r *Runner) cleanupOne(item *WorkItem) error {
	dest := r.archiveDestPath(item)
	var errs []error
	for _, stale := range []string{dest, dest + ".partial"} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", stale, err))
		}
	}
	return errors.Join(errs...)
}

// archiveDestPath derives where the archive phase writes this item.
func (r *Runner) archiveDestPath(item *WorkItem) string {
	name := item.Name + archiveExtension(r.opts.ArchiveFormat)
	if r.opts.OutputDir == "" {
		return filepath.Join(filepath.Dir(item.SourcePath), name)
	}
	return filepath.Join(r.opts.OutputDir, name)
}

func archiveExtension(format string) string {
	switch strings.ToLower(format) {
	case "7z":
		return ".7z"
	case "rar":
		return ".rar"
	default:
		return ".zip"
	}
}
