package progress

import (
	"sync"
	"time"
)

// Update is one coalesced progress report for a named scope (an item within
// a phase, e.g. "archive/Example Game").
type Update struct {
	Scope   string
	Percent float64
	Message string
}

// Sink consumes coalesced updates. Invocations are serialized by the
// Reporter, so a Sink needs no locking of its own.
type Sink func(Update)

// Reporter coalesces high-frequency progress callbacks (per-chunk network
// writes, archiver ticks) down to a rate a console or log can absorb. An
// update is forwarded when the integer percent changes or when the minimum
// interval has elapsed, whichever comes first; 0 and 100 always pass
// through. Safe for concurrent use by parallel phase tasks.
type Reporter struct {
	sink     Sink
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	scopes map[string]*scopeState
}

type scopeState struct {
	lastPercent int
	lastEmit    time.Time
}

// NewReporter wraps sink with rate limiting. A non-positive interval
// defaults to 150ms.
func NewReporter(sink Sink, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Reporter{
		sink:     sink,
		interval: interval,
		now:      time.Now,
		scopes:   make(map[string]*scopeState),
	}
}

// Report offers one raw progress sample. Percent is clamped to [0, 100].
func (r *Reporter) Report(scope string, percent float64, message string) {
	if r == nil || r.sink == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.scopes[scope]
	if !ok {
		state = &scopeState{lastPercent: -1}
		r.scopes[scope] = state
	}

	now := r.now()
	whole := int(percent)
	terminal := whole == 0 || whole >= 100
	if !terminal && whole == state.lastPercent && now.Sub(state.lastEmit) < r.interval {
		return
	}
	if terminal && whole == state.lastPercent {
		return
	}

	state.lastPercent = whole
	state.lastEmit = now
	r.sink(Update{Scope: scope, Percent: percent, Message: message})
}

// Reset drops the coalescing state for a scope, e.g. when a new upload
// attempt restarts the same item from zero.
func (r *Reporter) Reset(scope string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.scopes, scope)
	r.mu.Unlock()
}
