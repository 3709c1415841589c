// Package prompt derives the completion prompt from the text around the cursor.
package prompt

import (
	"strings"

	"multicompletion/types"
)

// Analysis is the result of inspecting a document at the cursor
type Analysis struct {
	// Prefix is all document text before the cursor
	Prefix string
	// StopHint is text the completion should not run into: the rest of the
	// current line for single-line completions, otherwise the next line.
	// Empty means no hint.
	StopHint string
	// SingleLine is set when non-whitespace code follows the cursor on its line
	SingleLine bool
}

// Analyze builds the prefix and stop hint for a cursor position.
// Out-of-range positions are clamped to the document.
func Analyze(doc types.Document, pos types.Position) Analysis {
	lines := strings.Split(doc.Text, "\n")

	row := min(max(pos.Line, 0), len(lines)-1)
	current := strings.TrimSuffix(lines[row], "\r")
	col := min(max(pos.Character, 0), len(current))

	var prefix strings.Builder
	for i := range row {
		prefix.WriteString(lines[i])
		prefix.WriteString("\n")
	}
	prefix.WriteString(current[:col])

	hint := current[col:]
	singleLine := strings.TrimSpace(hint) != ""

	if !singleLine {
		hint = ""
		if row+1 < len(lines) {
			hint = strings.TrimSuffix(lines[row+1], "\r")
		}
	}

	return Analysis{
		Prefix:     prefix.String(),
		StopHint:   hint,
		SingleLine: singleLine,
	}
}

// Stops returns the caller-supplied stop sequences for a request.
// Whitespace-only hints are dropped since they would end generation at any indentation.
func (a Analysis) Stops() []string {
	if strings.TrimSpace(a.StopHint) == "" {
		return nil
	}
	return []string{a.StopHint}
}
