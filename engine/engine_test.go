package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"multicompletion/client/openai"
	"multicompletion/logger"
	"multicompletion/metrics"
	"multicompletion/provider"
	"multicompletion/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

func startEngine(t *testing.T, buf *mockBuffer, completer *mockCompleter, tracker *metrics.Tracker) *Engine {
	t.Helper()
	e := NewEngine(buf, completer, EngineConfig{Tracker: tracker})
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func waitState(t *testing.T, e *Engine, want state, msg string) {
	t.Helper()
	assert.Eventually(t, func() bool { return e.currentState() == want }, waitFor, tick, msg)
}

// suggestionEvents reads the suggestion lifecycle counter for one event label
func suggestionEvents(t *testing.T, reg *prometheus.Registry, event string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err, "gather")
	for _, mf := range families {
		if mf.GetName() != "multicompletion_suggestions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "event" && l.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestTextChanged_ShowsSuggestion(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	waitState(t, e, stateHasSuggestion, "suggestion shown")
	assert.Equal(t, []string{"a + b"}, buf.getShown(), "rendered text")

	reqs := completer.getRequests()
	require.Len(t, reqs, 1, "one request")
	assert.Equal(t, types.TriggerAutomatic, reqs[0].Context.TriggerKind, "typing is automatic")
	assert.Equal(t, "file:///test.py", reqs[0].Document.URI, "document from sync")
	assert.Equal(t, types.Position{Line: 1, Character: 11}, reqs[0].Position, "cursor from sync")
}

func TestRegenerate_IsManualTrigger(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, nil)

	e.Regenerate()

	waitState(t, e, stateHasSuggestion, "suggestion shown")
	reqs := completer.getRequests()
	require.Len(t, reqs, 1, "one request")
	assert.Equal(t, types.TriggerManual, reqs[0].Context.TriggerKind, "regenerate is manual")
}

func TestAutocompleteVisibleForwarded(t *testing.T) {
	buf := newMockBuffer()
	buf.snapshot.AutocompleteVisible = true
	completer := newMockCompleter(returning())
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return len(completer.getRequests()) == 1 }, waitFor, tick, "request issued")
	assert.True(t, completer.getRequests()[0].Context.AutocompleteVisible, "menu state forwarded")
}

func TestAccept_InsertsSuggestion(t *testing.T) {
	reg := prometheus.NewRegistry()
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, metrics.NewTracker(reg))

	e.HandleEvent("text_changed")
	waitState(t, e, stateHasSuggestion, "suggestion shown")

	e.HandleEvent("accept")

	waitState(t, e, stateIdle, "back to idle")
	assert.Equal(t, []string{"a + b"}, buf.getAccepted(), "inserted text")
	assert.Equal(t, 1.0, suggestionEvents(t, reg, metrics.EventShown), "shown once")
	assert.Equal(t, 1.0, suggestionEvents(t, reg, metrics.EventAccepted), "accepted once")
	assert.Equal(t, 0.0, suggestionEvents(t, reg, metrics.EventDisposed), "not disposed")
}

func TestEsc_RejectsSuggestion(t *testing.T) {
	reg := prometheus.NewRegistry()
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, metrics.NewTracker(reg))

	e.HandleEvent("text_changed")
	waitState(t, e, stateHasSuggestion, "suggestion shown")

	e.HandleEvent("esc")

	waitState(t, e, stateIdle, "back to idle")
	assert.Equal(t, 1, buf.getClearCalls(), "ghost text cleared")
	assert.Empty(t, buf.getAccepted(), "nothing inserted")
	assert.Equal(t, 1.0, suggestionEvents(t, reg, metrics.EventDisposed), "disposed once")
}

func TestInsertLeave_RejectsSuggestion(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	waitState(t, e, stateHasSuggestion, "suggestion shown")

	e.HandleEvent("insert_leave")

	waitState(t, e, stateIdle, "back to idle")
	assert.Equal(t, 1, buf.getClearCalls(), "ghost text cleared")
}

func TestTextChanged_WithSuggestionRequestsAgain(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	waitState(t, e, stateHasSuggestion, "first suggestion")

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return len(completer.getRequests()) == 2 }, waitFor, tick, "second request")
	waitState(t, e, stateHasSuggestion, "second suggestion")
	assert.GreaterOrEqual(t, buf.getClearCalls(), 1, "old ghost text cleared before the new request")
}

func TestPartials_RenderedWhileStreaming(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(streamingUntilCancelled("a", "a +", "a + b"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return len(buf.getShown()) == 3 }, waitFor, tick, "every partial rendered")
	assert.Equal(t, []string{"a", "a +", "a + b"}, buf.getShown(), "accumulated text")
	assert.Equal(t, statePending, e.currentState(), "still streaming")
}

func TestAccept_WhileStreamingInsertsPartial(t *testing.T) {
	reg := prometheus.NewRegistry()
	buf := newMockBuffer()
	completer := newMockCompleter(streamingUntilCancelled("a", "a + b"))
	e := startEngine(t, buf, completer, metrics.NewTracker(reg))

	e.HandleEvent("text_changed")
	assert.Eventually(t, func() bool { return len(buf.getShown()) == 2 }, waitFor, tick, "partials rendered")

	e.HandleEvent("accept")

	waitState(t, e, stateIdle, "back to idle")
	assert.Equal(t, []string{"a + b"}, buf.getAccepted(), "partial text inserted")
	assert.Equal(t, 1, completer.getCancelCalls(), "stream cancelled")
	assert.Equal(t, 1.0, suggestionEvents(t, reg, metrics.EventShown), "one suggestion across partials")
	assert.Equal(t, 1.0, suggestionEvents(t, reg, metrics.EventAccepted), "accepted")
}

func TestAccept_BeforeAnyTextIsIgnored(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(streamingUntilCancelled())
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	waitState(t, e, statePending, "streaming")

	e.HandleEvent("accept")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, statePending, e.currentState(), "request keeps running")
	assert.Empty(t, buf.getAccepted(), "nothing inserted")
	assert.Equal(t, 0, completer.getCancelCalls(), "not cancelled")
}

func TestEsc_WhileStreamingCancels(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(streamingUntilCancelled("a"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	assert.Eventually(t, func() bool { return len(buf.getShown()) == 1 }, waitFor, tick, "partial rendered")

	e.Dismiss()

	waitState(t, e, stateIdle, "idle after esc")
	assert.Equal(t, 1, completer.getCancelCalls(), "stream cancelled")
	assert.Equal(t, 1, buf.getClearCalls(), "partial cleared")
}

func TestStaleResultDropped(t *testing.T) {
	buf := newMockBuffer()
	var calls atomic.Int32
	completer := newMockCompleter(func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			onPartial("stale partial")
			return items("stale"), nil
		}
		return items("fresh"), nil
	})
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tick, "first request running")
	e.HandleEvent("text_changed")

	waitState(t, e, stateHasSuggestion, "fresh suggestion")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"fresh"}, buf.getShown(), "superseded output never rendered")
}

func TestCompletionError_ReturnsToIdle(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(failing(errServer))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return len(completer.getRequests()) == 1 }, waitFor, tick, "request issued")
	waitState(t, e, stateIdle, "idle after error")
	assert.Empty(t, buf.getShown(), "nothing rendered")
}

func TestCompletionError_ChatOnlyModelHint(t *testing.T) {
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "engine.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	require.NoError(t, err, "open log")
	ll := logger.NewLimitedLogger(f, logger.LogLevelInfo)
	defer ll.Close()

	buf := newMockBuffer()
	completer := newMockCompleter(failing(fmt.Errorf("%w: gpt-4o", openai.ErrChatOnlyModel)))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool {
		data, _ := os.ReadFile(f.Name())
		return containsAll(string(data), "gpt-4o", "chat_mode: true")
	}, waitFor, tick, "error logged with chat_mode hint")
	waitState(t, e, stateIdle, "idle after error")
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestEmptyResult_ReturnsToIdle(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning())
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return len(completer.getRequests()) == 1 }, waitFor, tick, "request issued")
	waitState(t, e, stateIdle, "idle without items")
	assert.Empty(t, buf.getShown(), "nothing rendered")
}

func TestEmptyResult_ClearsRenderedPartials(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(func(ctx context.Context, req provider.Request, onPartial func(string)) ([]types.InlineItem, error) {
		onPartial("   ")
		return nil, nil
	})
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return buf.getClearCalls() == 1 }, waitFor, tick, "rejected partial cleared")
	waitState(t, e, stateIdle, "idle")
}

func TestSyncFailure_StaysIdle(t *testing.T) {
	buf := newMockBuffer()
	buf.syncErr = errors.New("no buffer")
	completer := newMockCompleter(returning("x"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")

	assert.Eventually(t, func() bool { return buf.getSyncCalls() == 1 }, waitFor, tick, "sync attempted")
	assert.Equal(t, stateIdle, e.currentState(), "idle")
	assert.Empty(t, completer.getRequests(), "no request without a snapshot")
}

func TestPanicInHandlerRecovered(t *testing.T) {
	buf := newMockBuffer()
	buf.panicOn = 1
	completer := newMockCompleter(returning("a + b"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	e.HandleEvent("text_changed")

	waitState(t, e, stateHasSuggestion, "second event handled after panic")
	assert.Equal(t, 2, buf.getSyncCalls(), "both events reached the buffer")
}

func TestUnknownEventIgnored(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(returning("x"))
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("completion_ready")
	e.HandleEvent("bogus")
	e.HandleEvent("accept")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stateIdle, e.currentState(), "idle")
	assert.Equal(t, 0, buf.getSyncCalls(), "no sync")
}

func TestStop_PostDoesNotBlock(t *testing.T) {
	buf := newMockBuffer()
	completer := newMockCompleter(streamingUntilCancelled())
	e := startEngine(t, buf, completer, nil)

	e.HandleEvent("text_changed")
	waitState(t, e, statePending, "streaming")

	e.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			e.HandleEvent("text_changed")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("posting after stop blocked")
	}
	assert.Equal(t, stateIdle, e.currentState(), "idle after stop")
}

func TestEventTypeFromString(t *testing.T) {
	assert.Equal(t, EventTextChanged, EventTypeFromString("text_changed"), "text_changed")
	assert.Equal(t, EventRegenerate, EventTypeFromString("regenerate"), "regenerate")
	assert.Equal(t, EventAccept, EventTypeFromString("accept"), "accept")
	assert.Equal(t, EventEsc, EventTypeFromString("esc"), "esc")
	assert.Equal(t, EventInsertLeave, EventTypeFromString("insert_leave"), "insert_leave")
	assert.Equal(t, EventType(""), EventTypeFromString("partial"), "internal events are not accepted from the editor")
}

func TestTransitionTable(t *testing.T) {
	seen := make(map[transitionKey]bool)
	for _, tr := range transitions {
		key := transitionKey{from: tr.From, event: tr.Event}
		assert.False(t, seen[key], "duplicate transition %s/%s", tr.From, tr.Event)
		seen[key] = true
		assert.NotNil(t, tr.Action, "action for %s/%s", tr.From, tr.Event)
	}

	assert.Nil(t, findTransition(stateIdle, EventAccept), "accept in idle does nothing")
	assert.Nil(t, findTransition(stateIdle, EventCompletionReady), "late results in idle are ignored")
	assert.Nil(t, findTransition(stateHasSuggestion, EventPartial), "partials after the result are ignored")
	assert.NotNil(t, findTransition(statePending, EventAccept), "accepting a partial")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", stateIdle.String(), "idle")
	assert.Equal(t, "Pending", statePending.String(), "pending")
	assert.Equal(t, "HasSuggestion", stateHasSuggestion.String(), "has suggestion")
	assert.Equal(t, "Unknown", state(9).String(), "unknown")
}
