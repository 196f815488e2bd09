package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"packmule/internal/cancel"
	"packmule/internal/checkpoint"
	"packmule/internal/collab"
	"packmule/internal/config"
	"packmule/internal/linkconv"
	"packmule/internal/metrics"
	"packmule/internal/pipeline"
	"packmule/internal/progress"
	"packmule/internal/storage"
)

// App wires the configured collaborators into one batch pipeline run.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	ctrl   *cancel.Controller

	uploader  storage.Uploader
	converter *linkconv.Client
	store     checkpoint.Store
	collector *metrics.Collector
	tracker   *progress.Tracker
}

// New builds the application from configuration. The controller is created
// by the caller so signal handlers can reach it before the run starts.
func New(cfg *config.Config, logger *zap.Logger, ctrl *cancel.Controller) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		ctrl:   ctrl,
	}

	if cfg.Batch.Upload {
		uploader, err := buildUploader(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.uploader = uploader
	}

	if cfg.Convert.Enabled {
		a.converter = linkconv.NewClient(linkconv.Config{
			URL:       cfg.Convert.URL,
			Attempts:  cfg.Convert.Attempts,
			BaseDelay: time.Duration(cfg.Convert.BaseDelaySec) * time.Second,
			MaxDelay:  time.Duration(cfg.Convert.MaxDelaySec) * time.Second,
		}, logger)
	}

	if cfg.Batch.Checkpoint != "" {
		store, err := checkpoint.NewSQLiteStore(cfg.Batch.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		a.store = store
	}

	if cfg.Batch.MetricsAddr != "" {
		a.collector = metrics.New()
		go func() {
			if err := a.collector.StartServer(cfg.Batch.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	return a, nil
}

func buildUploader(cfg *config.Config, logger *zap.Logger) (storage.Uploader, error) {
	switch cfg.Batch.Backend {
	case "s3":
		return storage.NewS3Uploader(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Secure:    cfg.S3.Secure,
		})
	default:
		return storage.NewFileHostClient(storage.FileHostConfig{
			AcquireURL:   cfg.Host.AcquireURL,
			StatusURL:    cfg.Host.StatusURL,
			APIKey:       cfg.Host.APIKey,
			PollAttempts: cfg.Host.PollAttempts,
			PollDelay:    time.Duration(cfg.Host.PollDelaySec) * time.Second,
		}, logger), nil
	}
}

// Run processes the given source paths through the pipeline and prints the
// per-item report when the batch finishes.
func (a *App) Run(ctx context.Context, paths []string) error {
	items, err := BuildItems(paths)
	if err != nil {
		return err
	}
	a.logger.Info("starting batch",
		zap.Int("items", len(items)),
		zap.String("backend", a.cfg.Batch.Backend),
	)

	var display *progress.Display
	if a.cfg.Batch.ShowProgress && progress.IsTerminalSupported() {
		a.tracker = progress.NewTracker()
		a.tracker.SetTotal(int64(len(items)), 0)
		display = progress.NewDisplay(a.tracker, time.Second)
		display.Start()
	}

	reporter := progress.NewReporter(func(update progress.Update) {
		a.logger.Debug("progress",
			zap.String("scope", update.Scope),
			zap.Float64("percent", update.Percent),
		)
	}, 0)

	var converter pipeline.LinkConverter
	if a.converter != nil {
		converter = a.converter
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		Controller: a.ctrl,
		Transformer: &collab.ExecTransformer{
			CommandTemplate: a.cfg.Batch.TransformCommand,
			Logger:          a.logger,
		},
		Archiver: &collab.ExecArchiver{
			CommandTemplate: a.cfg.Batch.ArchiveCommand,
			Logger:          a.logger,
		},
		Uploader:  a.uploader,
		Converter: converter,
		Reporter:  reporter,
		Store:     a.store,
		Metrics:   a.collector,
		Logger:    a.logger,
		OnOutcome: a.trackOutcome,
	}, pipeline.Options{
		Transform:       a.cfg.Batch.Transform,
		Archive:         a.cfg.Batch.Archive,
		Upload:          a.cfg.Batch.Upload,
		Convert:         a.cfg.Convert.Enabled,
		ArchiveFormat:   a.cfg.Batch.ArchiveFormat,
		ArchiveLevel:    a.cfg.Batch.ArchiveLevel,
		ArchivePassword: a.cfg.Batch.ArchivePassword,
		ArchiveParallel: a.cfg.Batch.ArchiveParallel,
		OutputDir:       a.cfg.Batch.OutputDir,
		UploadRetries:   a.cfg.Batch.UploadRetries,
		RetryBackoff:    time.Duration(a.cfg.Batch.RetryBackoffSec) * time.Second,
		Resume:          a.cfg.Batch.Resume,
	})

	report := runner.Run(ctx, items)

	if display != nil {
		display.Stop()
	}
	for _, line := range report.Lines() {
		fmt.Println(line)
	}

	if report.Cancelled {
		a.logger.Warn("batch cancelled by operator")
	} else {
		a.logger.Info("batch finished")
	}
	return nil
}

// trackOutcome feeds the final upload-phase outcome of each item into the
// console tracker.
func (a *App) trackOutcome(item *pipeline.WorkItem, phase pipeline.Phase, outcome pipeline.Outcome) {
	if a.tracker == nil || phase != pipeline.PhaseUpload {
		return
	}
	switch outcome.Kind {
	case pipeline.OutcomeSuccess:
		var bytes int64
		if item.Upload != nil {
			bytes = item.Upload.Size
		}
		a.tracker.AddSuccess(bytes)
	case pipeline.OutcomeFailed:
		a.tracker.AddFailed()
	default:
		a.tracker.AddSkipped()
	}
}

// Close releases held resources.
func (a *App) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
