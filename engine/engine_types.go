package engine

import (
	"context"

	"multicompletion/buffer"
	"multicompletion/provider"
	"multicompletion/types"
)

// Buffer defines the interface for buffer operations.
// Implemented by buffer.NvimBuffer for Neovim integration.
type Buffer interface {
	Sync() (*buffer.Snapshot, error)
	ShowSuggestion(text string) error
	ClearSuggestion() error
	Accept(text string) error
}

// Completer produces inline completions.
// Implemented by provider.Provider.
type Completer interface {
	ProvideInlineCompletions(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error)
	Cancel()
}

type state int

const (
	stateIdle state = iota
	statePending
	stateHasSuggestion
)

// completionResult is posted back to the event loop when a request ends
type completionResult struct {
	seq   uint64
	items []types.InlineItem
	err   error
}

// partialResult carries the accumulated text of a running request
type partialResult struct {
	seq  uint64
	text string
}
