package progress

import (
	"strings"
	"testing"
)

func TestClearSequenceRewindsInPlace(t *testing.T) {
	if got := clearSequence(0); got != "" {
		t.Errorf("clearSequence(0) = %q, want empty", got)
	}
	if got := clearSequence(1); got != "\r\033[J" {
		t.Errorf("clearSequence(1) = %q", got)
	}

	got := clearSequence(12)
	if !strings.Contains(got, "\033[11A") {
		t.Errorf("clearSequence(12) = %q, should move up 11 lines", got)
	}
	if !strings.HasSuffix(got, "\r\033[J") {
		t.Errorf("clearSequence(12) = %q, should erase to the end", got)
	}
	if strings.Contains(got, "\n") {
		t.Errorf("clearSequence must not emit newlines, got %q", got)
	}
}

func TestGenerateProgressBarBounds(t *testing.T) {
	d := NewDisplay(NewTracker(), 0)

	bar := d.generateProgressBar(150, 10)
	if !strings.Contains(bar, strings.Repeat("#", 10)) {
		t.Errorf("overflow percent should fill the bar: %q", bar)
	}
	bar = d.generateProgressBar(-5, 10)
	if strings.Contains(bar, "#") {
		t.Errorf("negative percent should leave the bar empty: %q", bar)
	}
}
