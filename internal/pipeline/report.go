package pipeline

import (
	"fmt"
	"time"

	"packmule/internal/progress"
)

// Report aggregates the per-item results of one batch run.
type Report struct {
	Items      []*WorkItem
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
}

// Counts tallies final-phase outcomes across the batch.
func (r *Report) Counts() (succeeded, failed, skipped, cancelled int) {
	for _, item := range r.Items {
		_, outcome, ok := item.FinalPhase()
		if !ok {
			continue
		}
		switch outcome.Kind {
		case OutcomeSuccess:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		case OutcomeCancelled:
			cancelled++
		}
	}
	return
}

// Lines renders the human-readable per-item report: the final phase each
// item reached, its outcome there, and the download link when one exists.
func (r *Report) Lines() []string {
	lines := make([]string, 0, len(r.Items)+2)
	for _, item := range r.Items {
		phase, outcome, ok := item.FinalPhase()
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: not processed", item.Name))
			continue
		}

		line := fmt.Sprintf("%s: %s at %s", item.Name, outcome.Kind, phase)
		if outcome.Reason != "" && outcome.Kind == OutcomeFailed {
			line += fmt.Sprintf(" (%s)", outcome.Reason)
		}
		if link := item.DownloadLink(); link != "" {
			line += " -> " + link
		}
		if item.Archive != nil {
			line += fmt.Sprintf(" [%s in %s]",
				progress.FormatBytes(item.Archive.Size),
				progress.FormatDuration(item.Archive.Duration))
		}
		lines = append(lines, line)
	}

	succeeded, failed, skipped, cancelled := r.Counts()
	lines = append(lines, fmt.Sprintf("total: %d ok, %d failed, %d skipped, %d cancelled (took %s)",
		succeeded, failed, skipped, cancelled,
		progress.FormatDuration(r.FinishedAt.Sub(r.StartedAt).Round(time.Second))))
	return lines
}
