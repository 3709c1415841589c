package engine

type EventType string

// Event type constants
const (
	EventTextChanged EventType = "text_changed"
	EventRegenerate  EventType = "regenerate"
	EventAccept      EventType = "accept"
	EventEsc         EventType = "esc"
	EventInsertLeave EventType = "insert_leave"

	// Internal events posted by request goroutines
	EventCompletionReady EventType = "completion_ready"
	EventCompletionError EventType = "completion_error"
	EventPartial         EventType = "partial"
)

// hostEvents are the events the editor may send
var hostEvents = map[string]EventType{
	string(EventTextChanged): EventTextChanged,
	string(EventRegenerate):  EventRegenerate,
	string(EventAccept):      EventAccept,
	string(EventEsc):         EventEsc,
	string(EventInsertLeave): EventInsertLeave,
}

// EventTypeFromString maps an editor event name to its type.
// Internal event names and unknown names map to "".
func EventTypeFromString(s string) EventType {
	return hostEvents[s]
}

type Event struct {
	Type EventType
	Data any
}
