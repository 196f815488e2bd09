package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"packmule/internal/cancel"
	"packmule/internal/checkpoint"
	"packmule/internal/metrics"
	"packmule/internal/progress"
	"packmule/internal/storage"
)

// State tracks where a batch run currently is.
type State string

const (
	StateIdle      State = "idle"
	StateCleanup   State = "cleanup"
	StateTransform State = "transform"
	StateArchive   State = "archive"
	StateUpload    State = "upload"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// Options selects which phases run and how they are tuned.
type Options struct {
	Transform bool
	Archive   bool
	Upload    bool
	Convert   bool

	ArchiveFormat   string
	ArchiveLevel    int
	ArchivePassword string
	OutputDir       string
	// ArchiveParallel bounds concurrent archive tasks; zero means one task
	// per eligible item.
	ArchiveParallel int

	// UploadRetries caps upload attempts per item.
	UploadRetries int
	// RetryBackoff is the base delay between upload attempts; it doubles
	// per attempt.
	RetryBackoff time.Duration
	// Resume reuses completed uploads recorded in the checkpoint store.
	Resume bool
}

// Deps are the runner's collaborators. Transformer, Archiver, Converter,
// Store, and Metrics may be nil when the matching phase or feature is
// disabled.
type Deps struct {
	Controller  *cancel.Controller
	Transformer Transformer
	Archiver    Archiver
	Uploader    storage.Uploader
	Converter   LinkConverter
	Reporter    *progress.Reporter
	Store       checkpoint.Store
	Metrics     *metrics.Collector
	Logger      *zap.Logger
	// Status receives human-readable progress lines (wait notices, retry
	// countdowns). Defaults to the logger.
	Status storage.StatusFunc
	// OnOutcome fires after every recorded phase outcome.
	OnOutcome func(item *WorkItem, phase Phase, outcome Outcome)
}

// Runner sequences the pipeline phases over a batch of work items and
// aggregates per-item results. One Runner drives one batch run.
type Runner struct {
	opts Options

	ctrl        *cancel.Controller
	transformer Transformer
	archiver    Archiver
	uploader    storage.Uploader
	converter   LinkConverter
	reporter    *progress.Reporter
	store       checkpoint.Store
	metrics     *metrics.Collector
	logger      *zap.Logger
	status      storage.StatusFunc
	onOutcome   func(*WorkItem, Phase, Outcome)

	slot TargetSlot

	mu    sync.Mutex
	state State
}

// NewRunner wires a runner for one batch run.
func NewRunner(deps Deps, opts Options) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UploadRetries <= 0 {
		opts.UploadRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}

	status := deps.Status
	if status == nil {
		status = func(message string) { logger.Info(message) }
	}

	return &Runner{
		opts:        opts,
		ctrl:        deps.Controller,
		transformer: deps.Transformer,
		archiver:    deps.Archiver,
		uploader:    deps.Uploader,
		converter:   deps.Converter,
		reporter:    deps.Reporter,
		store:       deps.Store,
		metrics:     deps.Metrics,
		logger:      logger,
		status:      status,
		onOutcome:   deps.OnOutcome,
		state:       StateIdle,
	}
}

// State returns the runner's current pipeline state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

// Run drives every enabled phase over the batch in order. Individual item
// failures never abort the run; only the operator's cancel-all cuts it
// short. The returned report covers every item.
func (r *Runner) Run(ctx context.Context, items []*WorkItem) *Report {
	report := &Report{Items: items, StartedAt: time.Now()}

	r.setState(StateCleanup)
	r.runCleanup(ctx, items)

	if r.opts.Transform {
		r.setState(StateTransform)
		r.runTransform(ctx, items)
	}
	if r.opts.Archive {
		r.setState(StateArchive)
		r.runArchive(ctx, items)
	}
	if r.opts.Upload {
		r.setState(StateUpload)
		r.runUpload(ctx, items)
		if r.opts.Convert && r.converter != nil {
			r.runConvert(ctx, items)
		}
	}

	if r.ctrl.Cancelled() {
		r.setState(StateCancelled)
	} else {
		r.setState(StateDone)
	}

	report.FinishedAt = time.Now()
	report.Cancelled = r.ctrl.Cancelled()
	return report
}

// record attaches an outcome and fans it out to the checkpoint store,
// metrics, and the observer.
func (r *Runner) record(item *WorkItem, phase Phase, outcome Outcome) {
	item.RecordOutcome(phase, outcome)

	switch outcome.Kind {
	case OutcomeSuccess:
		r.logger.Info("phase succeeded",
			zap.String("item", item.Name),
			zap.String("phase", string(phase)),
		)
	case OutcomeFailed:
		r.logger.Error("phase failed",
			zap.String("item", item.Name),
			zap.String("phase", string(phase)),
			zap.String("reason", outcome.Reason),
		)
	default:
		r.logger.Warn("phase ended early",
			zap.String("item", item.Name),
			zap.String("phase", string(phase)),
			zap.String("outcome", string(outcome.Kind)),
		)
	}

	if r.metrics != nil {
		r.metrics.IncOutcome(string(phase), string(outcome.Kind))
	}
	r.saveCheckpoint(item, phase, outcome)
	if r.onOutcome != nil {
		r.onOutcome(item, phase, outcome)
	}
}

func (r *Runner) saveCheckpoint(item *WorkItem, phase Phase, outcome Outcome) {
	if r.store == nil {
		return
	}

	record := &checkpoint.ItemRecord{
		ID:        item.ID,
		Name:      item.Name,
		Phase:     string(phase),
		Status:    checkpointStatus(outcome.Kind),
		LastError: outcome.Reason,
	}
	if item.Archive != nil {
		record.ArchivePath = item.Archive.Path
		record.ArchiveSize = item.Archive.Size
	}
	if item.Upload != nil {
		record.DownloadURL = item.Upload.DownloadURL
		record.RemoteName = item.Upload.FileName
		record.RemoteSize = item.Upload.Size
	}

	if err := r.store.SaveItem(record); err != nil {
		r.logger.Error("failed to save checkpoint",
			zap.String("item", item.ID),
			zap.Error(err),
		)
	}
}

func checkpointStatus(kind OutcomeKind) checkpoint.ItemStatus {
	switch kind {
	case OutcomeSuccess:
		return checkpoint.StatusCompleted
	case OutcomeFailed:
		return checkpoint.StatusFailed
	case OutcomeSkipped:
		return checkpoint.StatusSkipped
	case OutcomeCancelled:
		return checkpoint.StatusCancelled
	default:
		return checkpoint.StatusPending
	}
}

// cancelRemaining marks every still-live item in the slice Cancelled for
// the given phase. Items that already carry an outcome for the phase, or
// that failed an earlier phase, are left alone.
func (r *Runner) cancelRemaining(phase Phase, items []*WorkItem) {
	for _, item := range items {
		if _, done := item.OutcomeFor(phase); done {
			continue
		}
		if item.Eligible() || item.Cancelled() {
			r.record(item, phase, Outcome{Kind: OutcomeCancelled, Reason: "batch cancelled"})
		}
	}
}

// propagateExclusion records the forward outcome for an item that cannot
// enter this phase. Cancelled items stay visibly Cancelled in every later
// phase; failed items simply stop accumulating outcomes.
func (r *Runner) propagateExclusion(item *WorkItem, phase Phase) {
	if item.Cancelled() {
		if _, done := item.OutcomeFor(phase); !done {
			r.record(item, phase, Outcome{Kind: OutcomeCancelled, Reason: "cancelled in an earlier phase"})
		}
	}
}

// classify maps an error to the per-item outcome, keeping operator signals
// distinct from real failures.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: OutcomeSuccess}
	case cancel.IsSkip(err):
		return Outcome{Kind: OutcomeSkipped, Reason: "skipped by operator"}
	case cancel.IsCancelAll(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeCancelled, Reason: "cancelled"}
	default:
		return Outcome{Kind: OutcomeFailed, Reason: err.Error()}
	}
}
