package collab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"packmule/internal/cancel"
	"packmule/internal/pipeline"
)

func TestExecTransformerRunsCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "done")

	transformer := &ExecTransformer{CommandTemplate: "touch " + marker + " {source}"}
	if err := transformer.Apply(context.Background(), filepath.Join(dir, "src")); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("command did not run: %v", err)
	}
}

func TestExecTransformerFailureIncludesOutput(t *testing.T) {
	transformer := &ExecTransformer{CommandTemplate: `sh -c "echo tool broke; exit 3"`}
	err := transformer.Apply(context.Background(), "/tmp/src")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "tool broke") {
		t.Fatalf("error lost the tool output: %v", err)
	}
}

func TestExecTransformerNoCommand(t *testing.T) {
	transformer := &ExecTransformer{}
	if err := transformer.Apply(context.Background(), "/tmp/src"); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestExecTransformerCancelledReturnsCause(t *testing.T) {
	ctrl := cancel.NewController(context.Background())
	ctx, release := ctrl.BeginItem("a")
	defer release()

	transformer := &ExecTransformer{CommandTemplate: "sleep 30"}
	go func() {
		time.Sleep(50 * time.Millisecond)
		ctrl.Skip()
	}()

	err := transformer.Apply(ctx, "/tmp/src")
	if !errors.Is(err, cancel.ErrSkip) {
		t.Fatalf("expected the skip cause, got %v", err)
	}
}

func TestExecArchiverParsesProgress(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "bundle.zip")

	archiver := &ExecArchiver{
		CommandTemplate: `sh -c "echo 37%; echo 100%; printf data > {dest}"`,
	}

	var percents []float64
	result, err := archiver.Compress(context.Background(), pipeline.ArchiveRequest{
		SourcePath: dir,
		DestPath:   dest,
		Format:     "zip",
		Level:      5,
	}, func(percent float64) { percents = append(percents, percent) })
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	if result.Path != dest || result.Size != 4 {
		t.Fatalf("result = %+v", result)
	}

	var saw37, saw100 bool
	for _, percent := range percents {
		if percent == 37 {
			saw37 = true
		}
		if percent == 100 {
			saw100 = true
		}
	}
	if !saw37 || !saw100 {
		t.Fatalf("progress values %v missing parsed percents", percents)
	}
}

func TestExecArchiverPlaceholders(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "bundle.7z")
	capture := filepath.Join(dir, "argv")

	archiver := &ExecArchiver{
		CommandTemplate: `sh -c "echo {format} {level} > ` + capture + `; printf x > {dest}"`,
	}
	_, err := archiver.Compress(context.Background(), pipeline.ArchiveRequest{
		SourcePath: dir,
		DestPath:   dest,
		Format:     "7z",
		Level:      9,
	}, nil)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	captured, err := os.ReadFile(capture)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(captured)) != "7z 9" {
		t.Fatalf("placeholders not substituted: %q", captured)
	}
}

func TestExecArchiverMissingArtifact(t *testing.T) {
	archiver := &ExecArchiver{CommandTemplate: "true"}
	_, err := archiver.Compress(context.Background(), pipeline.ArchiveRequest{
		SourcePath: t.TempDir(),
		DestPath:   filepath.Join(t.TempDir(), "never.zip"),
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "wrote nothing") {
		t.Fatalf("expected missing-artifact error, got %v", err)
	}
}

func TestExecArchiverFailureIncludesStderr(t *testing.T) {
	archiver := &ExecArchiver{CommandTemplate: `sh -c "echo disk full >&2; exit 1"`}
	_, err := archiver.Compress(context.Background(), pipeline.ArchiveRequest{
		SourcePath: t.TempDir(),
		DestPath:   filepath.Join(t.TempDir(), "bundle.zip"),
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("error lost stderr: %v", err)
	}
}
