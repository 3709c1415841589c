package types

// Document is an open editor document
type Document struct {
	URI  string // stable identity, used as the response cache key
	Text string
}

// Position is a cursor location
type Position struct {
	Line      int // 0-indexed
	Character int // 0-indexed byte offset within the line
}

// TriggerKind classifies what caused a completion request
type TriggerKind int

const (
	TriggerAutomatic TriggerKind = iota // keystroke-driven
	TriggerManual                       // explicit user action
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerAutomatic:
		return "automatic"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// InlineContext carries host state for a single request
type InlineContext struct {
	TriggerKind TriggerKind
	// AutocompleteVisible is true when the host's completion menu is open
	AutocompleteVisible bool
}

// CompletionRequest is built fresh per keystroke and never mutated afterwards
type CompletionRequest struct {
	Model         string
	Prompt        string
	StopSequences []string
	Temperature   float64
	MaxTokens     int
	SingleLine    bool

	// Chat sends Prompt as a user message to the chat completions endpoint
	Chat         bool
	SystemPrompt string
}

// CompletionResult is the most recent completion set for a document
type CompletionResult struct {
	DocumentURI string
	// Prompt is the prefix the completions were generated for
	Prompt      string
	Completions []string
}

// Range is a span within a document
type Range struct {
	Start Position
	End   Position
}

// InlineItem is a ghost-text suggestion
type InlineItem struct {
	InsertText string
	Range      Range
}

// ChunkStream is a lazy sequence of completion text chunks. Recv returns
// io.EOF once the server signals completion. Streams are not restartable.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}
