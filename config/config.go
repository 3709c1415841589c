package config

import (
	"strings"
	"time"
)

// NoModel is sent when no model is configured. OpenAI-compatible local servers
// usually ignore the model field; remote ones reject it, which surfaces as no completion.
const NoModel = "NONE"

// DefaultEndpoint matches the default port of common local inference servers
const DefaultEndpoint = "http://localhost:5001/v1"

// CompressionBrotli enables brotli request bodies and br response decoding
const CompressionBrotli = "br"

// Endpoint is a named entry offered by the select_endpoint command
type Endpoint struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Model is an entry of the configured model list; only the first is used
type Model struct {
	Model string `json:"model" yaml:"model"`
}

// Settings is an immutable snapshot of the recognized options.
// A snapshot is taken once per request and passed down explicitly.
// ContextGitignore is stored for the editor side only; completion ignores it.
type Settings struct {
	ActiveEndpoint         string     `json:"active_endpoint" yaml:"active_endpoint"`
	Endpoints              []Endpoint `json:"endpoints" yaml:"endpoints,omitempty"`
	APIKey                 string     `json:"api_key" yaml:"api_key"`
	Models                 []Model    `json:"models" yaml:"models,omitempty"`
	Temperature            float64    `json:"temperature" yaml:"temperature"`
	MaxTokens              int        `json:"max_tokens" yaml:"max_tokens"`
	StopSequences          []string   `json:"stop_sequences" yaml:"stop_sequences,omitempty"`
	CompletionTimeout      int        `json:"completion_timeout" yaml:"completion_timeout"` // in milliseconds
	MaxLines               int        `json:"max_lines" yaml:"max_lines"`                   // 0 = no limit
	CountPartialLine       bool       `json:"count_partial_line" yaml:"count_partial_line"`
	SkipAutocompleteWidget bool       `json:"skip_autocomplete_widget" yaml:"skip_autocomplete_widget"`
	ContextGitignore       bool       `json:"context_gitignore" yaml:"context_gitignore"`
	InlineSuggestEnabled   bool       `json:"inline_suggest_enabled" yaml:"inline_suggest_enabled"`
	ChatMode               bool       `json:"chat_mode" yaml:"chat_mode"`
	SystemPrompt           string     `json:"system_prompt" yaml:"system_prompt,omitempty"`
	MaxContextTokens       int        `json:"max_context_tokens" yaml:"max_context_tokens"` // 0 = whole prefix
	Compression            string     `json:"compression" yaml:"compression,omitempty"`
	LogLevel               string     `json:"log_level" yaml:"log_level,omitempty"`
	MetricsAddr            string     `json:"metrics_addr" yaml:"metrics_addr,omitempty"`
	NsName                 string     `json:"ns_name" yaml:"ns_name,omitempty"`
	DebugImmediateShutdown bool       `json:"debug_immediate_shutdown" yaml:"debug_immediate_shutdown,omitempty"`
}

// Defaults returns the settings used for any option left unset
func Defaults() Settings {
	return Settings{
		ActiveEndpoint:       DefaultEndpoint,
		APIKey:               NoModel,
		Temperature:          0.2,
		MaxTokens:            100,
		MaxLines:             10,
		CountPartialLine:     true,
		ContextGitignore:     true,
		InlineSuggestEnabled: true,
		LogLevel:             "info",
		NsName:               "multicompletion",
	}
}

// Model returns the first configured model, or NoModel
func (s Settings) Model() string {
	if len(s.Models) == 0 || strings.TrimSpace(s.Models[0].Model) == "" {
		return NoModel
	}
	return s.Models[0].Model
}

// Delay is the pre-request wait applied before a completion is issued
func (s Settings) Delay() time.Duration {
	if s.CompletionTimeout <= 0 {
		return 0
	}
	return time.Duration(s.CompletionTimeout) * time.Millisecond
}

// FindEndpoint looks an endpoint up by name first, then by URL
func (s Settings) FindEndpoint(nameOrURL string) (Endpoint, bool) {
	for _, ep := range s.Endpoints {
		if ep.Name == nameOrURL {
			return ep, true
		}
	}
	for _, ep := range s.Endpoints {
		if ep.URL == nameOrURL {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// normalize fills in values that would otherwise break a request
func (s *Settings) normalize() {
	if strings.TrimSpace(s.ActiveEndpoint) == "" {
		s.ActiveEndpoint = DefaultEndpoint
	}
	s.ActiveEndpoint = strings.TrimRight(s.ActiveEndpoint, "/")
	if s.APIKey == "" {
		s.APIKey = NoModel
	}
	if s.MaxTokens < 0 {
		s.MaxTokens = 0
	}
	if s.Compression != CompressionBrotli {
		s.Compression = ""
	}
	if s.NsName == "" {
		s.NsName = "multicompletion"
	}
}

// clone deep-copies the slice fields so snapshots never share backing arrays
func (s Settings) clone() Settings {
	c := s
	c.Endpoints = append([]Endpoint(nil), s.Endpoints...)
	c.Models = append([]Model(nil), s.Models...)
	c.StopSequences = append([]string(nil), s.StopSequences...)
	return c
}
