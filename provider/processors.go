package provider

import (
	"errors"
	"fmt"
	"strings"

	"multicompletion/logger"
	"multicompletion/types"
	"multicompletion/utils"
)

// Preprocessor inspects the context before a request is sent.
// Return ErrSkipCompletion to skip without error, or another error to fail.
type Preprocessor func(p *Provider, ctx *Context) error

// Postprocessor inspects the finished completion.
// Return ErrSkipCompletion to reject it without error.
type Postprocessor func(p *Provider, ctx *Context) error

// ErrSkipCompletion is a sentinel error that processors return to skip
// completion without treating it as an error.
var ErrSkipCompletion = errors.New("skip completion")

// ErrEmptyCompletion rejects a completion with no visible text
var ErrEmptyCompletion = fmt.Errorf("%w: empty completion", ErrSkipCompletion)

// --- Gates, run before a stream is started ---

// SkipWhenDisabled skips every request while inline suggestions are toggled off
func SkipWhenDisabled() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		if !ctx.Settings.InlineSuggestEnabled {
			logger.Debug("provider: skipping, inline suggestions disabled")
			return ErrSkipCompletion
		}
		return nil
	}
}

// SkipAutocompleteWidget skips while the host's completion menu is open,
// when configured to do so
func SkipAutocompleteWidget() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		if ctx.Settings.SkipAutocompleteWidget && ctx.Request.Context.AutocompleteVisible {
			logger.Debug("provider: skipping, autocomplete widget visible")
			return ErrSkipCompletion
		}
		return nil
	}
}

// --- Preprocessors, run after the document is analyzed ---

// SkipEmptyPrefix skips when there is nothing before the cursor
func SkipEmptyPrefix() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		if ctx.Analysis.Prefix == "" {
			logger.Debug("provider: skipping, empty prefix")
			return ErrSkipCompletion
		}
		return nil
	}
}

// TrimPrompt cuts the prompt to the configured context budget
func TrimPrompt() Preprocessor {
	return func(p *Provider, ctx *Context) error {
		prompt, trimmed := utils.TrimPrefixToBudget(ctx.Analysis.Prefix, ctx.Settings.MaxContextTokens)
		if trimmed {
			logger.Debug("provider: prompt trimmed from %d to %d bytes", len(ctx.Analysis.Prefix), len(prompt))
		}
		ctx.Prompt = prompt
		return nil
	}
}

// --- Postprocessors ---

// TrimSingleLine drops line breaks a single-line completion ended with
func TrimSingleLine() Postprocessor {
	return func(p *Provider, ctx *Context) error {
		if ctx.Analysis.SingleLine {
			ctx.Text = strings.TrimRight(ctx.Text, "\r\n")
		}
		return nil
	}
}

// RejectEmpty rejects empty or whitespace-only completions
func RejectEmpty() Postprocessor {
	return func(p *Provider, ctx *Context) error {
		if strings.TrimSpace(ctx.Text) == "" {
			logger.Debug("provider: rejected, empty or whitespace-only")
			return ErrEmptyCompletion
		}
		return nil
	}
}

// Items places each completion at the cursor as a zero-width insertion
func Items(pos types.Position, completions []string) []types.InlineItem {
	items := make([]types.InlineItem, 0, len(completions))
	for _, c := range completions {
		items = append(items, types.InlineItem{
			InsertText: c,
			Range:      types.Range{Start: pos, End: pos},
		})
	}
	return items
}
