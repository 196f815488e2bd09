package pipeline

import (
	"time"

	"packmule/internal/storage"
)

// Phase is one pipeline stage applied to all eligible items before the next
// stage begins.
type Phase string

const (
	PhaseCleanup   Phase = "cleanup"
	PhaseTransform Phase = "transform"
	PhaseArchive   Phase = "archive"
	PhaseUpload    Phase = "upload"
)

// phaseOrder is the fixed execution order.
var phaseOrder = []Phase{PhaseCleanup, PhaseTransform, PhaseArchive, PhaseUpload}

// OutcomeKind classifies how an item fared in one phase.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Outcome is the tagged per-phase result attached to a work item. Operator
// signals (skip, cancel) are distinct kinds, never conflated with failure.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// ArchiveDescriptor describes the artifact the archive phase produced.
type ArchiveDescriptor struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// WorkItem is one unit of batch processing, owned exclusively by the runner
// for the duration of a run. Phase outcomes accumulate as the item moves
// through the pipeline; once a phase records Failed or Cancelled the item is
// excluded from everything after it.
type WorkItem struct {
	ID         string
	Name       string
	SourcePath string

	Archive *ArchiveDescriptor
	Upload  *storage.UploadResult
	Link    string

	outcomes map[Phase]Outcome
}

// NewWorkItem creates a work item for one source path.
func NewWorkItem(id, name, sourcePath string) *WorkItem {
	return &WorkItem{
		ID:         id,
		Name:       name,
		SourcePath: sourcePath,
		outcomes:   make(map[Phase]Outcome),
	}
}

// RecordOutcome attaches the result of one phase.
func (w *WorkItem) RecordOutcome(phase Phase, outcome Outcome) {
	w.outcomes[phase] = outcome
}

// OutcomeFor returns the recorded outcome for a phase, if any.
func (w *WorkItem) OutcomeFor(phase Phase) (Outcome, bool) {
	outcome, ok := w.outcomes[phase]
	return outcome, ok
}

// Eligible reports whether every recorded phase outcome is Success, i.e.
// whether the item may enter the next phase.
func (w *WorkItem) Eligible() bool {
	for _, outcome := range w.outcomes {
		if outcome.Kind != OutcomeSuccess {
			return false
		}
	}
	return true
}

// Cancelled reports whether any phase recorded a Cancelled outcome.
func (w *WorkItem) Cancelled() bool {
	for _, outcome := range w.outcomes {
		if outcome.Kind == OutcomeCancelled {
			return true
		}
	}
	return false
}

// FinalPhase returns the last phase that recorded an outcome, in pipeline
// order, together with that outcome.
func (w *WorkItem) FinalPhase() (Phase, Outcome, bool) {
	for i := len(phaseOrder) - 1; i >= 0; i-- {
		if outcome, ok := w.outcomes[phaseOrder[i]]; ok {
			return phaseOrder[i], outcome, true
		}
	}
	return "", Outcome{}, false
}

// DownloadLink returns the converted link when one exists, otherwise the
// durable upload reference.
func (w *WorkItem) DownloadLink() string {
	if w.Link != "" {
		return w.Link
	}
	if w.Upload != nil {
		return w.Upload.DownloadURL
	}
	return ""
}

// UploadPath is the file the upload phase sends: the produced archive when
// one exists, otherwise the raw source path.
func (w *WorkItem) UploadPath() string {
	if w.Archive != nil {
		return w.Archive.Path
	}
	return w.SourcePath
}
