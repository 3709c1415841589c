package buffer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"multicompletion/logger"
	"multicompletion/types"

	"github.com/neovim/go-client/nvim"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Handler names the editor side notifies with rpcnotify
const (
	EventMethod   = "multicompletion_event"
	CommandMethod = "multicompletion_command"
)

// ghostHighlight is the highlight group used for suggestion text
const ghostHighlight = "Comment"

var errNoClient = errors.New("nvim client not set")

type Config struct {
	NsName string // extmark namespace for ghost text
}

// Snapshot is the editor state captured by Sync
type Snapshot struct {
	URI  string
	Text string
	Row  int // 0-indexed
	Col  int // 0-indexed byte offset
	// AutocompleteVisible is true while the popup menu is shown
	AutocompleteVisible bool
}

// Document returns the synced buffer as a document
func (s *Snapshot) Document() types.Document {
	return types.Document{URI: s.URI, Text: s.Text}
}

// Position returns the synced cursor
func (s *Snapshot) Position() types.Position {
	return types.Position{Line: s.Row, Character: s.Col}
}

// NvimBuffer reads editor state and renders suggestions as extmarks
type NvimBuffer struct {
	mu     sync.Mutex
	client *nvim.Nvim
	config Config
	nsID   int

	id    nvim.Buffer
	lines []string
	row   int // 0-indexed
	col   int // 0-indexed
}

func New(config Config) *NvimBuffer {
	if config.NsName == "" {
		config.NsName = "multicompletion"
	}
	return &NvimBuffer{
		config: config,
		nsID:   -1,
		lines:  []string{},
	}
}

// SetClient creates the ghost text namespace on n and makes n the client for
// all buffer operations. A client that cannot answer leaves the current one in place.
func (b *NvimBuffer) SetClient(n *nvim.Nvim) error {
	nsID, err := n.CreateNamespace(b.config.NsName)
	if err != nil {
		return fmt.Errorf("failed to create namespace %q: %w", b.config.NsName, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = n
	b.nsID = nsID
	return nil
}

// Sync reads the current buffer, cursor and popup menu state in one round-trip
func (b *NvimBuffer) Sync() (*Snapshot, error) {
	defer logger.Trace("buffer.Sync")()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, errNoClient
	}

	batch := b.client.NewBatch()

	var currentBuf nvim.Buffer
	var path string
	var lines [][]byte
	var cursor [2]int
	var pumVisible bool

	batch.CurrentBuffer(&currentBuf)
	batch.BufferName(nvim.Buffer(0), &path)
	batch.BufferLines(nvim.Buffer(0), 0, -1, false, &lines)
	batch.WindowCursor(nvim.Window(0), &cursor)
	batch.ExecLua(`return vim.fn.pumvisible() == 1`, &pumVisible)

	if err := batch.Execute(); err != nil {
		return nil, fmt.Errorf("sync batch: %w", err)
	}

	linesStr := make([]string, len(lines))
	for i, line := range lines {
		linesStr[i] = string(line)
	}

	b.id = currentBuf
	b.lines = linesStr
	b.row = cursor[0] - 1 // nvim rows are 1-indexed
	b.col = cursor[1]

	return &Snapshot{
		URI:                 documentURI(path, currentBuf),
		Text:                strings.Join(linesStr, "\n"),
		Row:                 b.row,
		Col:                 b.col,
		AutocompleteVisible: pumVisible,
	}, nil
}

// ShowSuggestion renders text as ghost text at the synced cursor. The first
// line is drawn inline, the rest as virtual lines below.
func (b *NvimBuffer) ShowSuggestion(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return errNoClient
	}

	text = InsertionText(text, b.lineRemainder())
	inline, below := GhostChunks(text)

	batch := b.client.NewBatch()
	batch.ClearBufferNamespace(b.id, b.nsID, 0, -1)

	if text != "" {
		opts := map[string]any{
			"virt_text":     [][]any{{inline, ghostHighlight}},
			"virt_text_pos": "inline",
			"hl_mode":       "combine",
		}
		if len(below) > 0 {
			virtLines := make([][][]any, len(below))
			for i, line := range below {
				virtLines[i] = [][]any{{line, ghostHighlight}}
			}
			opts["virt_lines"] = virtLines
		}
		var id int
		batch.SetBufferExtmark(b.id, b.nsID, b.row, b.col, opts, &id)
	}

	if err := batch.Execute(); err != nil {
		return fmt.Errorf("show suggestion: %w", err)
	}
	return nil
}

// ClearSuggestion removes any rendered ghost text
func (b *NvimBuffer) ClearSuggestion() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return errNoClient
	}
	return b.client.ClearBufferNamespace(b.id, b.nsID, 0, -1)
}

// Accept inserts text at the synced cursor, clears the ghost text and moves
// the cursor to the end of the insertion
func (b *NvimBuffer) Accept(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return errNoClient
	}

	text = InsertionText(text, b.lineRemainder())
	if text == "" {
		return b.client.ClearBufferNamespace(b.id, b.nsID, 0, -1)
	}

	lines := strings.Split(text, "\n")
	replacement := make([][]byte, len(lines))
	for i, line := range lines {
		replacement[i] = []byte(line)
	}

	endRow, endCol := InsertionEnd(b.row, b.col, lines)

	batch := b.client.NewBatch()
	batch.ClearBufferNamespace(b.id, b.nsID, 0, -1)
	batch.SetBufferText(b.id, b.row, b.col, b.row, b.col, replacement)
	batch.SetWindowCursor(nvim.Window(0), [2]int{endRow + 1, endCol})
	if err := batch.Execute(); err != nil {
		return fmt.Errorf("accept suggestion: %w", err)
	}

	b.row, b.col = endRow, endCol
	return nil
}

// RegisterEventHandler routes editor notifications to handler
func (b *NvimBuffer) RegisterEventHandler(handler func(event string)) error {
	client := b.current()
	if client == nil {
		return errNoClient
	}
	return client.RegisterHandler(EventMethod, func(_ *nvim.Nvim, event string) {
		handler(event)
	})
}

// RegisterCommandHandler routes editor commands (name followed by arguments) to handler
func (b *NvimBuffer) RegisterCommandHandler(handler func(args []string)) error {
	client := b.current()
	if client == nil {
		return errNoClient
	}
	return client.RegisterHandler(CommandMethod, func(_ *nvim.Nvim, args []string) {
		handler(args)
	})
}

// Notify shows a message through vim.notify
func (b *NvimBuffer) Notify(msg string, warn bool) error {
	client := b.current()
	if client == nil {
		return errNoClient
	}
	level := "INFO"
	if warn {
		level = "WARN"
	}
	return client.ExecLua(`local msg, level = ...; vim.notify(msg, vim.log.levels[level])`, nil, msg, level)
}

func (b *NvimBuffer) current() *nvim.Nvim {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// lineRemainder is the text after the cursor on the synced line
func (b *NvimBuffer) lineRemainder() string {
	if b.row < 0 || b.row >= len(b.lines) {
		return ""
	}
	line := b.lines[b.row]
	if b.col >= len(line) {
		return ""
	}
	return line[b.col:]
}

// InsertionText drops the tail of a single-line completion that repeats the
// start of the code after the cursor, so "x)" before ")" inserts "x".
func InsertionText(completion, lineRemainder string) string {
	if completion == "" || lineRemainder == "" || strings.Contains(completion, "\n") {
		return completion
	}
	dmp := diffmatchpatch.New()
	overlap := dmp.DiffCommonOverlap(completion, lineRemainder)
	return completion[:len(completion)-overlap]
}

// GhostChunks splits a suggestion into the inline part and the lines below it
func GhostChunks(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	return lines[0], lines[1:]
}

// InsertionEnd returns the 0-indexed position just after lines inserted at row, col
func InsertionEnd(row, col int, lines []string) (int, int) {
	if len(lines) <= 1 {
		if len(lines) == 0 {
			return row, col
		}
		return row, col + len(lines[0])
	}
	return row + len(lines) - 1, len(lines[len(lines)-1])
}

// documentURI identifies a buffer; unnamed buffers get a per-buffer URI
func documentURI(path string, id nvim.Buffer) string {
	if path == "" {
		return fmt.Sprintf("buffer://%d", int(id))
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
