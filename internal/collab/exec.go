// Package collab provides external-tool implementations of the pipeline
// collaborator interfaces. The pipeline only observes success, failure, and
// percent progress; everything about how the tools work stays in here.
package collab

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"packmule/internal/pipeline"
)

// percentPattern matches progress lines like "37%" or " 42.5% ..." that
// archiving tools print on stdout.
var percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// ExecTransformer runs an external command over one install directory. The
// command template may reference {source}.
type ExecTransformer struct {
	CommandTemplate string
	Logger          *zap.Logger
}

// Apply executes the transform tool and waits for it to finish. The context
// kills the process on cancellation.
func (t *ExecTransformer) Apply(ctx context.Context, sourcePath string) error {
	if strings.TrimSpace(t.CommandTemplate) == "" {
		return fmt.Errorf("transform command is not configured")
	}

	command := strings.NewReplacer("{source}", sourcePath).Replace(t.CommandTemplate)
	argv, err := shellquote.Split(command)
	if err != nil {
		return fmt.Errorf("parse transform command: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("transform command is empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return context.Cause(ctx)
		}
		return fmt.Errorf("transform tool failed: %w: %s", err, tail(string(output), 512))
	}

	if t.Logger != nil {
		t.Logger.Debug("transform tool finished", zap.String("source", sourcePath))
	}
	return nil
}

// ExecArchiver shells out to an archiving tool that prints percent progress
// on stdout. The command template may reference {source}, {dest}, {format},
// {level}, and {password}.
type ExecArchiver struct {
	CommandTemplate string
	Logger          *zap.Logger
}

// Compress runs the tool, forwarding parsed percent values to progress, and
// reports the written artifact.
func (a *ExecArchiver) Compress(ctx context.Context, req pipeline.ArchiveRequest, progress func(percent float64)) (pipeline.ArchiveResult, error) {
	var result pipeline.ArchiveResult

	if strings.TrimSpace(a.CommandTemplate) == "" {
		return result, fmt.Errorf("archive command is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(req.DestPath), 0o755); err != nil {
		return result, fmt.Errorf("create archive output dir: %w", err)
	}

	command := strings.NewReplacer(
		"{source}", req.SourcePath,
		"{dest}", req.DestPath,
		"{format}", req.Format,
		"{level}", strconv.Itoa(req.Level),
		"{password}", req.Password,
	).Replace(a.CommandTemplate)

	argv, err := shellquote.Split(command)
	if err != nil {
		return result, fmt.Errorf("parse archive command: %w", err)
	}
	if len(argv) == 0 {
		return result, fmt.Errorf("archive command is empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return result, err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("start archive tool: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		if match := percentPattern.FindStringSubmatch(scanner.Text()); match != nil {
			if percent, err := strconv.ParseFloat(match[1], 64); err == nil {
				progress(percent)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, context.Cause(ctx)
		}
		return result, fmt.Errorf("archive tool failed: %w: %s", err, tail(stderr.String(), 512))
	}

	info, err := os.Stat(req.DestPath)
	if err != nil {
		return result, fmt.Errorf("archive tool reported success but wrote nothing: %w", err)
	}
	if progress != nil {
		progress(100)
	}

	result.Path = req.DestPath
	result.Size = info.Size()
	return result, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
