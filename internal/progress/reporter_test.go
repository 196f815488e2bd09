package progress

import (
	"testing"
	"time"
)

// fakeClock drives the reporter's interval logic deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter(interval time.Duration) (*Reporter, *fakeClock, *[]Update) {
	var updates []Update
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := NewReporter(func(u Update) { updates = append(updates, u) }, interval)
	r.now = clock.now
	return r, clock, &updates
}

func TestReporterCoalescesSamePercent(t *testing.T) {
	r, _, updates := newTestReporter(150 * time.Millisecond)

	r.Report("upload/a", 50.2, "uploading")
	r.Report("upload/a", 50.4, "uploading")
	r.Report("upload/a", 50.9, "uploading")

	if len(*updates) != 1 {
		t.Fatalf("expected 1 coalesced update, got %d", len(*updates))
	}
}

func TestReporterEmitsOnIntegerChange(t *testing.T) {
	r, _, updates := newTestReporter(time.Hour)

	r.Report("upload/a", 50, "uploading")
	r.Report("upload/a", 51, "uploading")
	r.Report("upload/a", 52, "uploading")

	if len(*updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(*updates))
	}
}

func TestReporterEmitsAfterInterval(t *testing.T) {
	r, clock, updates := newTestReporter(150 * time.Millisecond)

	r.Report("upload/a", 50, "uploading")
	clock.advance(200 * time.Millisecond)
	r.Report("upload/a", 50.1, "uploading")

	if len(*updates) != 2 {
		t.Fatalf("expected interval-driven emit, got %d updates", len(*updates))
	}
}

func TestReporterTerminalValuesAlwaysPass(t *testing.T) {
	r, _, updates := newTestReporter(time.Hour)

	r.Report("upload/a", 0, "start")
	r.Report("upload/a", 100, "done")

	if len(*updates) != 2 {
		t.Fatalf("0 and 100 must pass through, got %d updates", len(*updates))
	}

	// But a repeated terminal value stays suppressed.
	r.Report("upload/a", 100, "done")
	if len(*updates) != 2 {
		t.Fatalf("repeated 100 should be suppressed, got %d updates", len(*updates))
	}
}

func TestReporterScopesAreIndependent(t *testing.T) {
	r, _, updates := newTestReporter(time.Hour)

	r.Report("archive/a", 50, "archiving")
	r.Report("archive/b", 50, "archiving")

	if len(*updates) != 2 {
		t.Fatalf("scopes must not share state, got %d updates", len(*updates))
	}
}

func TestReporterClampsPercent(t *testing.T) {
	r, _, updates := newTestReporter(time.Hour)

	r.Report("upload/a", -3, "weird")
	r.Report("upload/a", 140, "weird")

	if len(*updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(*updates))
	}
	if (*updates)[0].Percent != 0 || (*updates)[1].Percent != 100 {
		t.Fatalf("percent not clamped: %v", *updates)
	}
}

func TestReporterReset(t *testing.T) {
	r, _, updates := newTestReporter(time.Hour)

	r.Report("upload/a", 50, "uploading")
	r.Reset("upload/a")
	r.Report("upload/a", 50, "uploading")

	if len(*updates) != 2 {
		t.Fatalf("reset should allow the same percent again, got %d updates", len(*updates))
	}
}

func TestReporterNilSafe(t *testing.T) {
	var r *Reporter
	r.Report("x", 50, "m") // must not panic
	r.Reset("x")
}
