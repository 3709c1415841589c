package utils

import (
	"strings"
	"unicode/utf8"
)

// Token estimation constants
const (
	AvgCharsPerToken = 2 // Conservative estimate for code
)

// EstimateCharsFromTokens estimates the number of characters for a given token count
func EstimateCharsFromTokens(tokens int) int {
	return tokens * AvgCharsPerToken
}

// TrimPrefixToBudget keeps the tail of prefix that fits within maxTokens,
// starting at a line boundary where possible so the prompt never opens
// mid-line. Text nearest the cursor is always kept. Returns the trimmed
// prefix and whether trimming occurred; maxTokens <= 0 disables the budget.
func TrimPrefixToBudget(prefix string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return prefix, false
	}

	maxChars := EstimateCharsFromTokens(maxTokens)
	if len(prefix) <= maxChars {
		return prefix, false
	}

	start := len(prefix) - maxChars

	// Advance to the next line start inside the window
	if start > 0 && prefix[start-1] != '\n' {
		if idx := strings.IndexByte(prefix[start:], '\n'); idx >= 0 && start+idx+1 < len(prefix) {
			return prefix[start+idx+1:], true
		}
	}

	// The cursor line alone exceeds the budget; cut on a rune boundary
	for start < len(prefix) && !utf8.RuneStart(prefix[start]) {
		start++
	}
	return prefix[start:], true
}
