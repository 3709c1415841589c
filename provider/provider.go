// Package provider turns a document and cursor position into inline completions.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"multicompletion/cache"
	"multicompletion/client/openai"
	"multicompletion/config"
	"multicompletion/logger"
	"multicompletion/metrics"
	"multicompletion/prompt"
	"multicompletion/truncate"
	"multicompletion/types"
)

// ErrCancelled is returned when a request was superseded or cancelled by the host
var ErrCancelled = errors.New("completion cancelled")

// Stop sequence always sent first: three blank lines end any completion
const blockStop = "\n\n\n"

// Client opens completion streams (enables mocking in tests)
type Client interface {
	Complete(ctx context.Context, req *types.CompletionRequest) (types.ChunkStream, error)
}

// SettingsSource yields the current configuration snapshot
type SettingsSource interface {
	Snapshot() config.Settings
}

// Request is one inline completion request from the host
type Request struct {
	Document types.Document
	Position types.Position
	Context  types.InlineContext
}

// Context carries data through the completion pipeline
type Context struct {
	Request  Request
	Settings config.Settings
	Analysis prompt.Analysis
	Prompt   string // prefix after the context budget is applied
	Text     string // accumulated completion text
}

type clientKey struct {
	endpoint    string
	apiKey      string
	compression string
}

// Provider serves inline completions. One provider exists per process; it
// owns the response cache and the stream controller.
type Provider struct {
	settings   SettingsSource
	cache      *cache.Cache
	controller *Controller
	tracker    *metrics.Tracker

	gates          []Preprocessor
	preprocessors  []Preprocessor
	postprocessors []Postprocessor

	mu        sync.Mutex
	client    Client
	clientKey clientKey
	newClient func(s config.Settings) Client
}

// New creates a provider reading configuration from settings.
// tracker may be nil.
func New(settings SettingsSource, tracker *metrics.Tracker) *Provider {
	return &Provider{
		settings:   settings,
		cache:      cache.New(),
		controller: NewController(),
		tracker:    tracker,
		gates: []Preprocessor{
			SkipWhenDisabled(),
			SkipAutocompleteWidget(),
		},
		preprocessors: []Preprocessor{
			SkipEmptyPrefix(),
			TrimPrompt(),
		},
		postprocessors: []Postprocessor{
			TrimSingleLine(),
			RejectEmpty(),
		},
		newClient: func(s config.Settings) Client {
			return openai.NewClient(s.ActiveEndpoint, s.APIKey, openai.Options{Compression: s.Compression})
		},
	}
}

// ProvideInlineCompletions produces suggestions for the cursor position.
// onPartial, if non-nil, receives the accumulated text after every chunk.
// Returns nil items when there is nothing to suggest, and ErrCancelled when
// the request was superseded or cancelled.
func (p *Provider) ProvideInlineCompletions(ctx context.Context, req Request, onPartial func(string)) ([]types.InlineItem, error) {
	start := time.Now()
	pctx := &Context{Request: req, Settings: p.settings.Snapshot()}

	// Any new request supersedes the running stream, even one a gate skips
	handle := p.controller.Begin(ctx)
	defer p.controller.Finish(handle)

	if err := runPre(p, pctx, p.gates); err != nil {
		return nil, p.observe(start, err, false)
	}

	pctx.Analysis = prompt.Analyze(req.Document, req.Position)

	if req.Context.TriggerKind == types.TriggerAutomatic {
		if completions, ok := p.cache.Lookup(req.Document.URI, pctx.Analysis.Prefix); ok {
			logger.Debug("provider: request %s served %d cached completions for %s", handle.ID(), len(completions), req.Document.URI)
			p.tracker.ObserveRequest(metrics.OutcomeCached, time.Since(start))
			return Items(req.Position, completions), nil
		}
	}

	if err := runPre(p, pctx, p.preprocessors); err != nil {
		return nil, p.observe(start, err, false)
	}

	if err := wait(handle, pctx.Settings.Delay()); err != nil {
		logger.Debug("provider: request %s cancelled during delay", handle.ID())
		return nil, p.observe(start, err, false)
	}

	completionReq := BuildRequest(pctx.Settings, pctx.Prompt, pctx.Analysis)
	p.logRequest(handle, pctx.Settings, completionReq)

	truncated, err := p.stream(handle, pctx, completionReq, onPartial)
	if errors.Is(err, ErrCancelled) {
		logger.Debug("provider: request %s cancelled", handle.ID())
		return nil, p.observe(start, err, false)
	}
	if err != nil {
		logger.Debug("provider: request %s failed: %v", handle.ID(), err)
		return nil, p.observe(start, err, false)
	}
	logger.Debug("provider: request %s response %d bytes truncated=%v text=%q", handle.ID(), len(pctx.Text), truncated, pctx.Text)

	for _, post := range p.postprocessors {
		if err := post(p, pctx); err != nil {
			return nil, p.observe(start, err, truncated)
		}
	}

	completions := []string{pctx.Text}
	p.cache.Set(types.CompletionResult{
		DocumentURI: req.Document.URI,
		Prompt:      pctx.Analysis.Prefix,
		Completions: completions,
	})

	p.observe(start, nil, truncated)
	return Items(req.Position, completions), nil
}

// Cancel aborts the in-flight stream, if any
func (p *Provider) Cancel() {
	p.controller.Cancel()
}

// State returns the stream controller state
func (p *Provider) State() State {
	return p.controller.State()
}

// BuildRequest assembles a request. Stop sequences are ordered: the block
// stop, then the caller's hint, then the configured global stops.
func BuildRequest(s config.Settings, promptText string, a prompt.Analysis) *types.CompletionRequest {
	stops := []string{blockStop}
	stops = append(stops, a.Stops()...)
	stops = append(stops, s.StopSequences...)

	return &types.CompletionRequest{
		Model:         s.Model(),
		Prompt:        promptText,
		StopSequences: stops,
		Temperature:   s.Temperature,
		MaxTokens:     s.MaxTokens,
		SingleLine:    a.SingleLine,
		Chat:          s.ChatMode,
		SystemPrompt:  s.SystemPrompt,
	}
}

func runPre(p *Provider, pctx *Context, procs []Preprocessor) error {
	for _, pre := range procs {
		if err := pre(p, pctx); err != nil {
			return err
		}
	}
	return nil
}

// stream reads chunks until the server ends the stream or the line limit is
// crossed. Chunks arriving after cancellation are discarded.
func (p *Provider) stream(handle *StreamHandle, pctx *Context, req *types.CompletionRequest, onPartial func(string)) (bool, error) {
	maxLines, countPartial := pctx.Settings.MaxLines, pctx.Settings.CountPartialLine
	if req.SingleLine {
		maxLines, countPartial = 1, true
	}
	tr := truncate.New(maxLines, countPartial)

	chunks, err := p.clientFor(pctx.Settings).Complete(handle.Context(), req)
	if err != nil {
		if aborted(handle) {
			return false, ErrCancelled
		}
		return false, err
	}
	defer chunks.Close()

	for {
		chunk, err := chunks.Recv()
		if aborted(handle) {
			return false, ErrCancelled
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("reading completion stream: %w", err)
		}

		p.tracker.AddChunk()
		stop := tr.Push(chunk)
		pctx.Text = tr.Text()
		if onPartial != nil {
			onPartial(pctx.Text)
		}
		if stop {
			logger.Debug("provider: stopping stream %s at %d lines", handle.ID(), maxLines)
			return true, nil
		}
	}
	return false, nil
}

// aborted reports whether the stream's context is gone
func aborted(handle *StreamHandle) bool {
	return handle.Cancelled() || handle.Context().Err() != nil
}

// clientFor returns the cached client, rebuilding it when connection settings change
func (p *Provider) clientFor(s config.Settings) Client {
	key := clientKey{endpoint: s.ActiveEndpoint, apiKey: s.APIKey, compression: s.Compression}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil || p.clientKey != key {
		logger.Debug("provider: creating client for %s", s.ActiveEndpoint)
		p.client = p.newClient(s)
		p.clientKey = key
	}
	return p.client
}

// wait holds the request back for the configured delay. A superseding
// request cancels the wait.
func wait(handle *StreamHandle, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-handle.Context().Done():
		return ErrCancelled
	}
}

// observe records the request outcome and maps skip sentinels to a nil error
func (p *Provider) observe(start time.Time, err error, truncated bool) error {
	outcome := metrics.OutcomeCompleted
	switch {
	case errors.Is(err, ErrEmptyCompletion):
		outcome, err = metrics.OutcomeEmpty, nil
	case errors.Is(err, ErrSkipCompletion):
		outcome, err = metrics.OutcomeSkipped, nil
	case errors.Is(err, ErrCancelled):
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeError
	case truncated:
		outcome = metrics.OutcomeTruncated
	}
	p.tracker.ObserveRequest(outcome, time.Since(start))
	return err
}

func (p *Provider) logRequest(handle *StreamHandle, s config.Settings, req *types.CompletionRequest) {
	logger.Debug("provider request %s:\n  URL: %s\n  Model: %s\n  Chat: %v\n  Temperature: %.2f\n  MaxTokens: %d\n  Stops: %q\n  SingleLine: %v\n  Prompt length: %d chars",
		handle.ID(),
		s.ActiveEndpoint,
		req.Model,
		req.Chat,
		req.Temperature,
		req.MaxTokens,
		req.StopSequences,
		req.SingleLine,
		len(req.Prompt))
}
