package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"multicompletion/logger"

	"github.com/google/uuid"
)

// State of the stream controller
type State int

const (
	StateIdle State = iota
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStreaming:
		return "Streaming"
	default:
		return "Unknown"
	}
}

// StreamHandle identifies one in-flight completion stream
type StreamHandle struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// ID returns the unique stream identifier
func (h *StreamHandle) ID() string {
	return h.id
}

// Context is cancelled when the stream is superseded, cancelled or finished
func (h *StreamHandle) Context() context.Context {
	return h.ctx
}

// Cancel marks the stream as cancelled and aborts its request.
// Output arriving after this point must be discarded.
func (h *StreamHandle) Cancel() {
	h.cancelled.Store(true)
	h.cancel()
}

// Cancelled reports whether Cancel was called
func (h *StreamHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Controller guarantees at most one active stream. Beginning a new stream
// cancels the previous one first.
type Controller struct {
	mu     sync.Mutex
	active *StreamHandle
	state  State
}

// NewController creates an idle controller
func NewController() *Controller {
	return &Controller{}
}

// Begin cancels any active stream and registers a new one derived from parent.
// A parent that is already done yields a cancelled handle and leaves the
// active stream alone, so a request abandoned before it started cannot
// supersede a newer one.
func (c *Controller) Begin(parent context.Context) *StreamHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if parent.Err() != nil {
		ctx, cancel := context.WithCancel(parent)
		h := &StreamHandle{id: uuid.NewString(), ctx: ctx, cancel: cancel}
		h.Cancel()
		return h
	}

	if c.active != nil {
		logger.Debug("controller: superseding stream %s", c.active.id)
		c.active.Cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &StreamHandle{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.active = h
	c.state = StateStreaming
	return h
}

// Cancel aborts the active stream, if any. Returns false when idle.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return false
	}
	logger.Debug("controller: cancelling stream %s", c.active.id)
	c.active.Cancel()
	c.active = nil
	c.state = StateIdle
	return true
}

// Finish releases h after natural completion or truncation. A handle that
// was already superseded leaves the controller untouched.
func (c *Controller) Finish(h *StreamHandle) {
	if h == nil {
		return
	}
	h.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == h {
		c.active = nil
		c.state = StateIdle
	}
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the active handle or nil
func (c *Controller) Active() *StreamHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
