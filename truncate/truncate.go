// Package truncate enforces a maximum line count on streamed completions.
package truncate

import (
	"strings"
	"unicode"
)

// CountLines counts newline-terminated lines in s. When countPartial is set a
// trailing line without a newline counts as well.
func CountLines(s string, countPartial bool) int {
	n := strings.Count(s, "\n")
	if countPartial && s != "" && !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// TrimSpacesEnd strips trailing whitespace, including newlines
func TrimSpacesEnd(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// TrimLines cuts s down to its first maxLines lines and strips the whitespace
// left at the cut. Text within the limit is returned unchanged, so
// TrimLines(TrimLines(s)) == TrimLines(s). maxLines <= 0 disables the limit.
func TrimLines(s string, maxLines int, countPartial bool) string {
	if maxLines <= 0 || CountLines(s, countPartial) <= maxLines {
		return s
	}

	cut := 0
	for range maxLines {
		idx := strings.IndexByte(s[cut:], '\n')
		if idx < 0 {
			cut = len(s)
			break
		}
		cut += idx + 1
	}
	return TrimSpacesEnd(s[:cut])
}

// Truncator accumulates streamed chunks and reports when the line limit is crossed
type Truncator struct {
	maxLines     int
	countPartial bool
	acc          strings.Builder
	text         string
	stopped      bool
}

// New creates a truncator. maxLines <= 0 accepts any number of lines.
func New(maxLines int, countPartial bool) *Truncator {
	return &Truncator{maxLines: maxLines, countPartial: countPartial}
}

// Push appends a chunk and returns true once the accumulation exceeds the
// limit. After that the text is final and further chunks are ignored.
func (t *Truncator) Push(chunk string) bool {
	if t.stopped {
		return true
	}

	t.acc.WriteString(chunk)
	t.text = t.acc.String()

	if t.maxLines <= 0 || CountLines(t.text, t.countPartial) <= t.maxLines {
		return false
	}

	t.text = TrimLines(t.text, t.maxLines, t.countPartial)
	t.stopped = true
	return true
}

// Text returns the accumulated text, trimmed if the limit was crossed
func (t *Truncator) Text() string {
	return t.text
}

// Stopped reports whether the limit was crossed
func (t *Truncator) Stopped() bool {
	return t.stopped
}
