package scxml

import (
	"log/slog"
	"strings"
	"sync"
)

// TraceMode selects which observations a tracer emits. Modes combine as a
// bit set.
type TraceMode uint32

const (
	TraceModeNone      TraceMode = 0
	TraceModeMethods   TraceMode = 1 << 0
	TraceModeStates    TraceMode = 1 << 1
	TraceModeEvents    TraceMode = 1 << 2
	TraceModeArguments TraceMode = 1 << 3
	TraceModeResults   TraceMode = 1 << 4
	TraceModeAll       TraceMode = TraceModeMethods | TraceModeStates | TraceModeEvents | TraceModeArguments | TraceModeResults
)

// TraceModeFromString parses a comma-separated mode list such as
// "states,events". Unknown names are ignored.
func TraceModeFromString(s string) TraceMode {
	var m TraceMode
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "methods":
			m |= TraceModeMethods
		case "states":
			m |= TraceModeStates
		case "events":
			m |= TraceModeEvents
		case "arguments":
			m |= TraceModeArguments
		case "results":
			m |= TraceModeResults
		case "all":
			m |= TraceModeAll
		}
	}
	return m
}

// Tracer receives structured observations from the interpreter: steps,
// events, state changes and method boundaries. Implementations must be
// safe for use from the session worker plus timer goroutines.
type Tracer interface {
	Mode() TraceMode
	SetMode(mode TraceMode)

	EnterMethod(session SessionID, name string)
	ExitMethod(session SessionID, name string)
	Argument(session SessionID, name, value string)
	Result(session SessionID, value string)

	EnterState(session SessionID, state string)
	ExitState(session SessionID, state string)

	EventInternal(session SessionID, ev *Event)
	EventExternalReceived(session SessionID, ev *Event)
	EventExternalSent(from, to SessionID, ev *Event)

	Log(session SessionID, label, message string)
}

// TracerFactory builds a tracer per session.
type TracerFactory func() Tracer

// DefaultTracer logs observations through slog.
type DefaultTracer struct {
	mu   sync.Mutex
	mode TraceMode
	log  *slog.Logger
}

// NewDefaultTracer creates a tracer with the given mode over the default
// logger.
func NewDefaultTracer(mode TraceMode) *DefaultTracer {
	return &DefaultTracer{mode: mode, log: slog.Default()}
}

var _ Tracer = (*DefaultTracer)(nil)

func (t *DefaultTracer) Mode() TraceMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *DefaultTracer) SetMode(mode TraceMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
}

func (t *DefaultTracer) enabled(m TraceMode) bool {
	return t.Mode()&m != 0
}

func (t *DefaultTracer) EnterMethod(session SessionID, name string) {
	if t.enabled(TraceModeMethods) {
		t.log.Debug(">>> "+name, "session", session)
	}
}

func (t *DefaultTracer) ExitMethod(session SessionID, name string) {
	if t.enabled(TraceModeMethods) {
		t.log.Debug("<<< "+name, "session", session)
	}
}

func (t *DefaultTracer) Argument(session SessionID, name, value string) {
	if t.enabled(TraceModeArguments) {
		t.log.Debug("arg", "session", session, name, value)
	}
}

func (t *DefaultTracer) Result(session SessionID, value string) {
	if t.enabled(TraceModeResults) {
		t.log.Debug("result", "session", session, "value", value)
	}
}

func (t *DefaultTracer) EnterState(session SessionID, state string) {
	if t.enabled(TraceModeStates) {
		t.log.Info("enter state", "session", session, "state", state)
	}
}

func (t *DefaultTracer) ExitState(session SessionID, state string) {
	if t.enabled(TraceModeStates) {
		t.log.Info("exit state", "session", session, "state", state)
	}
}

func (t *DefaultTracer) EventInternal(session SessionID, ev *Event) {
	if t.enabled(TraceModeEvents) {
		t.log.Info("internal event", "session", session, "event", ev.Name)
	}
}

func (t *DefaultTracer) EventExternalReceived(session SessionID, ev *Event) {
	if t.enabled(TraceModeEvents) {
		t.log.Info("external event", "session", session, "event", ev.Name, "origin", ev.Origin)
	}
}

func (t *DefaultTracer) EventExternalSent(from, to SessionID, ev *Event) {
	if t.enabled(TraceModeEvents) {
		t.log.Info("event sent", "from", from, "to", to, "event", ev.Name)
	}
}

func (t *DefaultTracer) Log(session SessionID, label, message string) {
	if label != "" {
		t.log.Info(message, "session", session, "label", label)
		return
	}
	t.log.Info(message, "session", session)
}
