package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelAll is the cancellation cause recorded when the operator cancels
// the whole batch.
var ErrCancelAll = errors.New("batch cancelled by operator")

// ErrSkip is the cancellation cause recorded when the operator skips the
// item currently being processed.
var ErrSkip = errors.New("item skipped by operator")

// Controller holds the two operator signals for one batch run: a sticky
// cancel-all and a per-item skip. Phase executors register the item (or
// archive task) they are about to process and receive a context that is
// cancelled with the matching cause when a signal fires.
type Controller struct {
	base context.Context

	mu        sync.Mutex
	cancelled bool // sticky for the whole run
	pending   bool // cancel-all demand not yet handled by a phase loop
	nextToken int
	active    map[int]context.CancelCauseFunc

	currentItem   string
	currentCancel context.CancelCauseFunc
}

// NewController creates a controller for one batch run. The base context
// bounds everything; its cancellation propagates to every registered item.
func NewController(base context.Context) *Controller {
	if base == nil {
		base = context.Background()
	}
	return &Controller{
		base:   base,
		active: make(map[int]context.CancelCauseFunc),
	}
}

// BeginItem registers the item a sequential phase is about to process and
// returns its context plus a release func. Registering a new item resets the
// skip signal: a previous skip never leaks into the next item.
func (c *Controller) BeginItem(id string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(c.base)

	c.mu.Lock()
	token := c.register(cancel)
	c.currentItem = id
	c.currentCancel = cancel
	// Only an unconsumed demand pre-cancels: items that survived the phase
	// where cancel-all landed keep flowing through later phases.
	if c.pending {
		cancel(ErrCancelAll)
	}
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		delete(c.active, token)
		if c.currentItem == id {
			c.currentItem = ""
			c.currentCancel = nil
		}
		c.mu.Unlock()
		cancel(nil)
	}
}

// BeginTask registers one task of a parallel phase. Task contexts respond to
// cancel-all but are not eligible for skip.
func (c *Controller) BeginTask(id string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(c.base)

	c.mu.Lock()
	token := c.register(cancel)
	if c.pending {
		cancel(ErrCancelAll)
	}
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		delete(c.active, token)
		c.mu.Unlock()
		cancel(nil)
	}
}

func (c *Controller) register(cancel context.CancelCauseFunc) int {
	c.nextToken++
	c.active[c.nextToken] = cancel
	return c.nextToken
}

// Skip aborts the retry loop of the current sequential item only. No-op when
// nothing skippable is in flight.
func (c *Controller) Skip() {
	c.mu.Lock()
	cancel := c.currentCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(ErrSkip)
	}
}

// CancelAll raises the sticky cancel signal: every registered context is
// cancelled and the demand stays pending until a phase loop consumes it.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	c.cancelled = true
	c.pending = true
	cancels := make([]context.CancelCauseFunc, 0, len(c.active))
	for _, cancel := range c.active {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel(ErrCancelAll)
	}
}

// Cancelled reports whether cancel-all was raised at any point in the run.
func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// ConsumeCancel reports a pending cancel-all demand and clears it. The phase
// loop that observes the demand marks its not-yet-started items Cancelled;
// items that already passed that phase keep flowing through later phases.
func (c *Controller) ConsumeCancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = false
	return pending
}

// CurrentItem returns the id of the item currently eligible for skip.
func (c *Controller) CurrentItem() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentItem
}

// Cause classifies a context error into the operator signal that produced
// it. Returns nil for contexts that are still alive.
func Cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if cause == nil {
		return ctx.Err()
	}
	return cause
}

// IsSkip reports whether err stems from a skip signal.
func IsSkip(err error) bool { return errors.Is(err, ErrSkip) }

// IsCancelAll reports whether err stems from a cancel-all signal.
func IsCancelAll(err error) bool { return errors.Is(err, ErrCancelAll) }
