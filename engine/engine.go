package engine

import (
	"context"
	"errors"
	"sync"

	"multicompletion/client/openai"
	"multicompletion/logger"
	"multicompletion/metrics"
	"multicompletion/provider"
	"multicompletion/types"
)

type EngineConfig struct {
	Tracker *metrics.Tracker // may be nil
}

// Engine turns editor events into completion requests and renders the
// results. All state is owned by the event loop goroutine.
type Engine struct {
	buffer   Buffer
	provider Completer
	tracker  *metrics.Tracker

	state         state
	seq           uint64 // bumped per request; results carrying an older seq are stale
	currentCancel context.CancelFunc
	suggestion    string // text currently rendered as ghost text
	shown         *metrics.CompletionMetrics

	mu        sync.Mutex
	eventChan chan Event
	done      chan struct{}

	// Main context and cancel for the engine lifecycle
	mainCtx    context.Context
	mainCancel context.CancelFunc
	stopped    bool
	stopOnce   sync.Once
}

func NewEngine(buffer Buffer, completer Completer, config EngineConfig) *Engine {
	return &Engine{
		buffer:    buffer,
		provider:  completer,
		tracker:   config.Tracker,
		state:     stateIdle,
		eventChan: make(chan Event, 100),
		done:      make(chan struct{}),
	}
}

func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.mainCtx, e.mainCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	go e.eventLoop(e.mainCtx)
	logger.Info("engine started")
}

// Stop gracefully shuts down the engine and cancels any running request
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		logger.Info("stopping engine...")

		e.stopped = true
		if e.mainCancel != nil {
			e.mainCancel()
		}
		e.cancelRequest()
		e.state = stateIdle
		e.suggestion = ""
		e.shown = nil
		close(e.done)

		logger.Info("engine stopped")
	})
}

// HandleEvent queues an editor event by name. Unknown names are ignored.
func (e *Engine) HandleEvent(name string) {
	eventType := EventTypeFromString(name)
	if eventType == "" {
		logger.Debug("ignoring unknown event %q", name)
		return
	}
	e.post(Event{Type: eventType})
}

// Dismiss rejects the current suggestion and cancels any running request
func (e *Engine) Dismiss() {
	e.post(Event{Type: EventEsc})
}

// Regenerate requests a fresh completion, bypassing the response cache
func (e *Engine) Regenerate() {
	e.post(Event{Type: EventRegenerate})
}

// post queues an event unless the engine has stopped
func (e *Engine) post(event Event) {
	select {
	case e.eventChan <- event:
	case <-e.done:
	}
}

func (e *Engine) eventLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event loop panic recovered: %v", r)
			e.eventLoop(ctx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case event := <-e.eventChan:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("event handler panic recovered for event %v: %v", event.Type, r)
					}
				}()
				e.handleEvent(event)
			}()
		}
	}
}

func (e *Engine) handleEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	logger.Debug("handle event: %s state=%s", event.Type, e.state)
	e.dispatch(event)
}

// requestCompletion drops the current suggestion and starts a new request
// for the cursor position
func (e *Engine) requestCompletion(trigger types.TriggerKind) {
	e.reject()

	snapshot, err := e.buffer.Sync()
	if err != nil {
		logger.Error("buffer sync failed: %v", err)
		return
	}

	e.seq++
	seq := e.seq
	ctx, cancel := context.WithCancel(e.mainCtx)
	e.currentCancel = cancel
	e.state = statePending

	req := provider.Request{
		Document: snapshot.Document(),
		Position: snapshot.Position(),
		Context: types.InlineContext{
			TriggerKind:         trigger,
			AutocompleteVisible: snapshot.AutocompleteVisible,
		},
	}

	go func() {
		defer cancel()

		items, err := e.provider.ProvideInlineCompletions(ctx, req, func(text string) {
			e.post(Event{Type: EventPartial, Data: partialResult{seq: seq, text: text}})
		})
		if err != nil {
			e.post(Event{Type: EventCompletionError, Data: completionResult{seq: seq, err: err}})
			return
		}
		e.post(Event{Type: EventCompletionReady, Data: completionResult{seq: seq, items: items}})
	}()
}

func (e *Engine) handleCompletionReady(items []types.InlineItem) {
	e.currentCancel = nil
	if len(items) == 0 || items[0].InsertText == "" {
		e.clearSuggestion()
		e.state = stateIdle
		return
	}
	e.showSuggestion(items[0].InsertText)
	e.state = stateHasSuggestion
}

func (e *Engine) handleCompletionError(err error) {
	e.currentCancel = nil
	switch {
	case errors.Is(err, provider.ErrCancelled):
		logger.Debug("completion cancelled: %v", err)
	case errors.Is(err, openai.ErrChatOnlyModel):
		logger.Error("completion error: %v (set chat_mode: true for this model)", err)
	case openai.StatusCode(err) != 0:
		logger.Error("completion error (HTTP %d): %v", openai.StatusCode(err), err)
	default:
		logger.Error("completion error: %v", err)
	}
	e.clearSuggestion()
	e.state = stateIdle
}

// showSuggestion renders text, keeping one metrics record per suggestion
func (e *Engine) showSuggestion(text string) {
	if text == "" {
		return
	}
	if err := e.buffer.ShowSuggestion(text); err != nil {
		logger.Error("show suggestion failed: %v", err)
		return
	}
	e.suggestion = text

	additions := metrics.NewCompletionMetrics(text)
	if e.shown == nil {
		e.shown = additions
		e.tracker.TrackShown(e.shown)
		return
	}
	e.shown.Additions = additions.Additions
}

// acceptSuggestion inserts the rendered text. A request still streaming is
// cancelled and the text received so far is inserted. Nothing happens while
// no text has arrived yet.
func (e *Engine) acceptSuggestion() {
	text := e.suggestion
	if text == "" {
		return
	}

	e.cancelRequest()
	if err := e.buffer.Accept(text); err != nil {
		logger.Error("accept failed: %v", err)
	}
	e.tracker.TrackAccepted(e.shown)

	e.suggestion = ""
	e.shown = nil
	e.state = stateIdle
}

// reject cancels any running request and removes the rendered suggestion
func (e *Engine) reject() {
	e.cancelRequest()
	e.clearSuggestion()
	e.state = stateIdle
}

// cancelRequest aborts the running request and makes its pending results stale
func (e *Engine) cancelRequest() {
	if e.currentCancel != nil {
		e.currentCancel()
		e.currentCancel = nil
		e.provider.Cancel()
	}
	e.seq++
}

func (e *Engine) clearSuggestion() {
	if e.suggestion == "" && e.shown == nil {
		return
	}
	if err := e.buffer.ClearSuggestion(); err != nil {
		logger.Error("clear suggestion failed: %v", err)
	}
	e.tracker.TrackDisposed(e.shown)
	e.suggestion = ""
	e.shown = nil
}

// currentState returns the state under the engine lock
func (e *Engine) currentState() state {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
