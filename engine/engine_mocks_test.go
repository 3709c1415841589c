package engine

import (
	"context"
	"errors"
	"sync"

	"multicompletion/buffer"
	"multicompletion/provider"
	"multicompletion/types"
)

// --- Mock implementations ---

// mockBuffer implements the Buffer interface for testing
type mockBuffer struct {
	mu       sync.Mutex
	snapshot buffer.Snapshot
	syncErr  error
	panicOn  int // Sync panics on this call number (1-based), 0 = never

	// Track method calls
	syncCalls  int
	shown      []string
	clearCalls int
	accepted   []string
}

func newMockBuffer() *mockBuffer {
	return &mockBuffer{
		snapshot: buffer.Snapshot{
			URI:  "file:///test.py",
			Text: "def add(a, b):\n    return ",
			Row:  1,
			Col:  11,
		},
	}
}

func (b *mockBuffer) Sync() (*buffer.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncCalls++
	if b.panicOn != 0 && b.syncCalls == b.panicOn {
		panic("sync exploded")
	}
	if b.syncErr != nil {
		return nil, b.syncErr
	}
	s := b.snapshot
	return &s, nil
}

func (b *mockBuffer) ShowSuggestion(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown = append(b.shown, text)
	return nil
}

func (b *mockBuffer) ClearSuggestion() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearCalls++
	return nil
}

func (b *mockBuffer) Accept(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accepted = append(b.accepted, text)
	return nil
}

func (b *mockBuffer) getShown() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.shown...)
}

func (b *mockBuffer) getAccepted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.accepted...)
}

func (b *mockBuffer) getClearCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clearCalls
}

func (b *mockBuffer) getSyncCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncCalls
}

type provideFunc func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error)

// mockCompleter implements the Completer interface for testing
type mockCompleter struct {
	mu          sync.Mutex
	provide     provideFunc
	requests    []provider.Request
	cancelCalls int
}

func newMockCompleter(fn provideFunc) *mockCompleter {
	return &mockCompleter{provide: fn}
}

func (c *mockCompleter) ProvideInlineCompletions(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.provide
	c.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx, req, onPartial)
}

func (c *mockCompleter) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls++
}

func (c *mockCompleter) getRequests() []provider.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Request(nil), c.requests...)
}

func (c *mockCompleter) getCancelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelCalls
}

// --- Provide helpers ---

func items(texts ...string) []types.InlineItem {
	out := make([]types.InlineItem, 0, len(texts))
	for _, t := range texts {
		out = append(out, types.InlineItem{InsertText: t})
	}
	return out
}

// returning answers immediately with texts
func returning(texts ...string) provideFunc {
	return func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
		return items(texts...), nil
	}
}

// failing answers with err
func failing(err error) provideFunc {
	return func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
		return nil, err
	}
}

// streamingUntilCancelled emits partials then waits for cancellation
func streamingUntilCancelled(partials ...string) provideFunc {
	return func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
		for _, p := range partials {
			onPartial(p)
		}
		<-ctx.Done()
		return nil, provider.ErrCancelled
	}
}

var errServer = errors.New("server exploded")
