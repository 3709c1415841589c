// Package cache keeps the most recent completion result per document.
package cache

import (
	"strings"
	"sync"

	"multicompletion/types"
)

// Cache maps a document URI to its last completion result.
// Setting an entry replaces any previous one for the same document.
type Cache struct {
	mu      sync.Mutex
	entries map[string]types.CompletionResult
}

// New creates an empty cache
func New() *Cache {
	return &Cache{entries: make(map[string]types.CompletionResult)}
}

// Get returns the entry for a document
func (c *Cache) Get(uri string) (types.CompletionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[uri]
	return r, ok
}

// Set stores result under its DocumentURI
func (c *Cache) Set(result types.CompletionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result.Completions = append([]string(nil), result.Completions...)
	c.entries[result.DocumentURI] = result
}

// Delete removes the entry for a document
func (c *Cache) Delete(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, uri)
}

// Len returns the number of cached documents
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Lookup serves a cached result for a document whose text now reads prefix.
// The user may have typed part of a cached completion since it was generated;
// the remaining tail of every completion still consistent with that typing is
// returned. Entries that no longer fit the prefix are dropped.
func (c *Cache) Lookup(uri, prefix string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[uri]
	if !ok {
		return nil, false
	}

	if strings.HasPrefix(prefix, r.Prompt) {
		typed := prefix[len(r.Prompt):]
		var rest []string
		for _, completion := range r.Completions {
			if tail, ok := strings.CutPrefix(completion, typed); ok && strings.TrimSpace(tail) != "" {
				rest = append(rest, tail)
			}
		}
		if len(rest) > 0 {
			return rest, true
		}
	}

	delete(c.entries, uri)
	return nil, false
}
