package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"packmule/internal/app"
	"packmule/internal/cancel"
	"packmule/internal/config"
	"packmule/internal/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "packmule [flags] SOURCE...",
	Short: "Batch transform, archive, and upload tool",
	Long: `packmule drives a batch of install directories through a fixed pipeline:
clean up stale artifacts, run the transform tool, compress each item, and
upload the result to a remote file host (or an S3-compatible bucket),
optionally converting the durable link through a secondary service.

Send SIGINT/SIGTERM to cancel the whole batch (in-flight items finish their
later phases), SIGUSR1 to skip only the item currently being processed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&configFile, "config", "c", "", "config file path (yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	flags.String("acquire-url", "", "file host endpoint that hands out upload URLs")
	flags.String("status-url", "", "file host completion poll endpoint")
	flags.String("api-key", "", "file host API key")
	flags.Int("poll-attempts", 10, "completion poll attempt cap")
	flags.Int("poll-delay-sec", 30, "delay between completion polls in seconds")

	flags.String("backend", "filehost", "upload backend (filehost or s3)")
	flags.String("s3-endpoint", "", "s3 endpoint")
	flags.String("s3-access-key", "", "s3 access key")
	flags.String("s3-secret-key", "", "s3 secret key")
	flags.String("s3-bucket", "", "s3 bucket")
	flags.Bool("s3-secure", false, "use https for s3")

	flags.Bool("convert", false, "convert durable links through the conversion service")
	flags.String("convert-url", "", "link conversion endpoint")
	flags.Int("convert-attempts", 30, "conversion attempt cap")

	flags.Bool("transform", true, "run the transform phase")
	flags.Bool("archive", true, "run the archive phase")
	flags.Bool("upload", true, "run the upload phase")
	flags.String("transform-command", "", "transform tool command, {source} is replaced per item")
	flags.String("archive-command", "", "archive tool command, {source} {dest} {format} {level} {password} are replaced")
	flags.String("archive-format", "zip", "archive format (zip, 7z, rar)")
	flags.Int("archive-level", 5, "compression level 0-9")
	flags.String("archive-password", "", "archive password, empty for none")
	flags.Int("archive-parallel", 4, "concurrent archive tasks, 0 for one per item")
	flags.String("output-dir", "", "archive output directory, defaults beside each source")
	flags.Int("upload-retries", 3, "upload attempt cap per item")
	flags.Int("retry-backoff-sec", 5, "base delay between upload attempts in seconds")
	flags.String("checkpoint", "./packmule.db", "checkpoint database path, empty to disable")
	flags.Bool("resume", false, "reuse completed uploads from the checkpoint database")
	flags.Bool("show-progress", true, "render the console progress display")
	flags.String("metrics-addr", "", "prometheus metrics listen address, empty to disable")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctrl := cancel.NewController(context.Background())
	handleSignals(ctrl, log)

	application, err := app.New(cfg, log, ctrl)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(context.Background(), args)
}

// handleSignals maps operator signals onto the controller: SIGINT/SIGTERM
// cancels the whole batch (a second one exits immediately), SIGUSR1 skips
// only the current item.
func handleSignals(ctrl *cancel.Controller, log *zap.Logger) {
	cancelCh := make(chan os.Signal, 1)
	signal.Notify(cancelCh, syscall.SIGINT, syscall.SIGTERM)

	skipCh := make(chan os.Signal, 1)
	signal.Notify(skipCh, syscall.SIGUSR1)

	go func() {
		<-cancelCh
		log.Warn("cancel requested, in-flight items will finish their remaining phases")
		ctrl.CancelAll()
		<-cancelCh
		log.Error("second cancel signal, exiting now")
		os.Exit(1)
	}()

	go func() {
		for range skipCh {
			if current := ctrl.CurrentItem(); current != "" {
				log.Warn("skipping current item", zap.String("item", current))
			}
			ctrl.Skip()
		}
	}()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
