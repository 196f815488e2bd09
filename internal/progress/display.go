package progress

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Display periodically renders the tracker state to the console while the
// batch runs.
type Display struct {
	tracker   *Tracker
	interval  time.Duration
	stopCh    chan struct{}
	lastLines int
}

// NewDisplay creates a console display refreshing at the given interval.
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the display update loop.
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop halts the loop and prints the final summary.
func (d *Display) Stop() {
	close(d.stopCh)
}

func (d *Display) displayLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.updateDisplay()
		case <-d.stopCh:
			d.finalDisplay()
			return
		}
	}
}

func (d *Display) updateDisplay() {
	status := d.tracker.GetStatus()
	lines := d.generateDisplay(status)

	d.clearLines()
	fmt.Print(strings.Join(lines, "\n"))
	d.lastLines = len(lines)
}

func (d *Display) finalDisplay() {
	d.clearLines()
	status := d.tracker.GetStatus()
	fmt.Println(strings.Join(d.generateFinalDisplay(status), "\n"))
}

func (d *Display) clearLines() {
	fmt.Print(clearSequence(d.lastLines))
}

// clearSequence rewinds the cursor over a previously rendered block of the
// given line count and erases it, so the next render draws in place.
func clearSequence(lines int) string {
	switch {
	case lines <= 0:
		return ""
	case lines == 1:
		return "\r\033[J"
	default:
		return fmt.Sprintf("\033[%dA\r\033[J", lines-1)
	}
}

func (d *Display) generateDisplay(status Status) []string {
	lines := make([]string, 0, 12)

	lines = append(lines, "")
	lines = append(lines, "batch progress")
	lines = append(lines, strings.Repeat("=", 51))

	itemProgress := d.tracker.GetProgressPercent()
	lines = append(lines, fmt.Sprintf("items: %d/%d (%.1f%%)",
		status.ProcessedItems, status.TotalItems, itemProgress))
	lines = append(lines, fmt.Sprintf("    %s", d.generateProgressBar(itemProgress, 40)))

	bytesProgress := d.tracker.GetBytesProgressPercent()
	lines = append(lines, fmt.Sprintf("data:  %s/%s (%.1f%%)",
		FormatBytes(status.UploadedBytes), FormatBytes(status.TotalBytes), bytesProgress))
	lines = append(lines, fmt.Sprintf("    %s", d.generateProgressBar(bytesProgress, 40)))

	lines = append(lines, fmt.Sprintf("ok: %d  failed: %d  skipped: %d",
		status.SucceededItems, status.FailedItems, status.SkippedItems))
	lines = append(lines, fmt.Sprintf("speed: %s (avg %s)",
		FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed)))

	elapsed := time.Since(status.StartTime)
	lines = append(lines, fmt.Sprintf("elapsed: %s  eta: %s",
		FormatDuration(elapsed), FormatDuration(status.ETA)))
	lines = append(lines, "")

	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	lines := make([]string, 0, 8)

	elapsed := time.Since(status.StartTime)

	lines = append(lines, "")
	lines = append(lines, "batch finished")
	lines = append(lines, strings.Repeat("=", 51))
	lines = append(lines, fmt.Sprintf("processed: %d items, %s",
		status.ProcessedItems, FormatBytes(status.UploadedBytes)))
	lines = append(lines, fmt.Sprintf("ok: %d  failed: %d  skipped: %d",
		status.SucceededItems, status.FailedItems, status.SkippedItems))
	lines = append(lines, fmt.Sprintf("total time: %s  avg speed: %s",
		FormatDuration(elapsed), FormatSpeed(status.AverageSpeed)))
	lines = append(lines, "")

	return lines
}

func (d *Display) generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is attached to a terminal.
func IsTerminalSupported() bool {
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	return true
}
