package engine

import (
	"multicompletion/logger"
	"multicompletion/types"
)

// String returns a human-readable name for the state
func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case statePending:
		return "Pending"
	case stateHasSuggestion:
		return "HasSuggestion"
	default:
		return "Unknown"
	}
}

// Transition represents a valid state transition in the engine's state machine
type Transition struct {
	From   state
	Event  EventType
	Action func(*Engine, Event)
}

// transitions defines all valid state transitions in the engine.
//
// State Machine Overview:
//
//	stateIdle
//	├─[TextChanged]──► statePending (automatic trigger)
//	└─[Regenerate]───► statePending (manual trigger)
//	                     │
//	                     ├─[Partial]──► statePending, ghost text updated
//	                     ├─[Accept]───► stateIdle, partial text inserted
//	                     ├─[CompletionReady + items]──► stateHasSuggestion
//	                     └─[CompletionReady empty / CompletionError]──► stateIdle
//	                                                    │
//	stateHasSuggestion                                  │
//	├─[Accept]──► stateIdle, suggestion inserted ◄──────┘
//	└─[TextChanged/Regenerate]──► statePending
//
// Rejection (all → stateIdle): Esc, InsertLeave
var transitions = []Transition{
	// From stateIdle
	{stateIdle, EventTextChanged, (*Engine).doRequestAutomatic},
	{stateIdle, EventRegenerate, (*Engine).doRequestManual},

	// From statePending
	{statePending, EventTextChanged, (*Engine).doRequestAutomatic},
	{statePending, EventRegenerate, (*Engine).doRequestManual},
	{statePending, EventAccept, (*Engine).doAccept},
	{statePending, EventEsc, (*Engine).doReject},
	{statePending, EventInsertLeave, (*Engine).doReject},
	{statePending, EventPartial, (*Engine).doShowPartial},
	{statePending, EventCompletionReady, (*Engine).doCompletionReady},
	{statePending, EventCompletionError, (*Engine).doCompletionError},

	// From stateHasSuggestion
	{stateHasSuggestion, EventTextChanged, (*Engine).doRequestAutomatic},
	{stateHasSuggestion, EventRegenerate, (*Engine).doRequestManual},
	{stateHasSuggestion, EventAccept, (*Engine).doAccept},
	{stateHasSuggestion, EventEsc, (*Engine).doReject},
	{stateHasSuggestion, EventInsertLeave, (*Engine).doReject},
}

// transitionMap provides O(1) lookup for transitions by (state, event) pair
var transitionMap map[transitionKey]*Transition

type transitionKey struct {
	from  state
	event EventType
}

func init() {
	transitionMap = make(map[transitionKey]*Transition)
	for i := range transitions {
		t := &transitions[i]
		key := transitionKey{from: t.From, event: t.Event}
		transitionMap[key] = t
	}
}

// findTransition looks up a valid transition for the given state and event.
// Returns nil if no valid transition exists.
func findTransition(from state, event EventType) *Transition {
	return transitionMap[transitionKey{from: from, event: event}]
}

// dispatch finds and executes the appropriate transition for an event.
// Returns true if a transition was found and executed, false otherwise.
// The action performs the state change, so transitions may depend on runtime state.
func (e *Engine) dispatch(event Event) bool {
	t := findTransition(e.state, event.Type)
	if t == nil {
		logger.Debug("no handler: state=%s event=%s", e.state, event.Type)
		return false
	}
	if t.Action != nil {
		t.Action(e, event)
	}
	return true
}

// Action functions for state transitions.

func (e *Engine) doRequestAutomatic(event Event) {
	e.requestCompletion(types.TriggerAutomatic)
}

func (e *Engine) doRequestManual(event Event) {
	e.requestCompletion(types.TriggerManual)
}

func (e *Engine) doReject(event Event) {
	e.reject()
}

func (e *Engine) doAccept(event Event) {
	e.acceptSuggestion()
}

func (e *Engine) doShowPartial(event Event) {
	partial, ok := event.Data.(partialResult)
	if !ok || partial.seq != e.seq {
		return
	}
	e.showSuggestion(partial.text)
}

func (e *Engine) doCompletionReady(event Event) {
	result, ok := event.Data.(completionResult)
	if !ok || result.seq != e.seq {
		return
	}
	e.handleCompletionReady(result.items)
}

func (e *Engine) doCompletionError(event Event) {
	result, ok := event.Data.(completionResult)
	if !ok || result.seq != e.seq {
		return
	}
	e.handleCompletionError(result.err)
}
