package scxml

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TraceRecord is one observation streamed to a remote trace sink.
type TraceRecord struct {
	Timestamp time.Time `json:"ts"`
	Session   SessionID `json:"session"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	Value     string    `json:"value,omitempty"`
	Event     *Event    `json:"event,omitempty"`
	PeerFrom  SessionID `json:"from,omitempty"`
	PeerTo    SessionID `json:"to,omitempty"`
}

// RemoteTracer streams trace records to a websocket sink, for remote
// tracing UIs. Records are sent best-effort: a broken connection drops
// tracing, never the session.
type RemoteTracer struct {
	mu   sync.Mutex
	mode TraceMode
	conn *websocket.Conn
	url  string
}

// DialRemoteTracer connects to a trace sink, e.g. "ws://host:port/trace".
func DialRemoteTracer(url string, mode TraceMode) (*RemoteTracer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote tracer: %w", err)
	}
	return &RemoteTracer{mode: mode, conn: conn, url: url}, nil
}

var _ Tracer = (*RemoteTracer)(nil)

func (t *RemoteTracer) Mode() TraceMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *RemoteTracer) SetMode(mode TraceMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
}

// Close shuts the connection down.
func (t *RemoteTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *RemoteTracer) emit(required TraceMode, rec TraceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mode&required == 0 || t.conn == nil {
		return
	}
	rec.Timestamp = time.Now()
	if err := t.conn.WriteJSON(rec); err != nil {
		slog.Debug("remote tracer write failed, closing", "url", t.url, "err", err)
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *RemoteTracer) EnterMethod(session SessionID, name string) {
	t.emit(TraceModeMethods, TraceRecord{Session: session, Kind: "method.enter", Name: name})
}

func (t *RemoteTracer) ExitMethod(session SessionID, name string) {
	t.emit(TraceModeMethods, TraceRecord{Session: session, Kind: "method.exit", Name: name})
}

func (t *RemoteTracer) Argument(session SessionID, name, value string) {
	t.emit(TraceModeArguments, TraceRecord{Session: session, Kind: "argument", Name: name, Value: value})
}

func (t *RemoteTracer) Result(session SessionID, value string) {
	t.emit(TraceModeResults, TraceRecord{Session: session, Kind: "result", Value: value})
}

func (t *RemoteTracer) EnterState(session SessionID, state string) {
	t.emit(TraceModeStates, TraceRecord{Session: session, Kind: "state.enter", Name: state})
}

func (t *RemoteTracer) ExitState(session SessionID, state string) {
	t.emit(TraceModeStates, TraceRecord{Session: session, Kind: "state.exit", Name: state})
}

func (t *RemoteTracer) EventInternal(session SessionID, ev *Event) {
	t.emit(TraceModeEvents, TraceRecord{Session: session, Kind: "event.internal", Event: ev})
}

func (t *RemoteTracer) EventExternalReceived(session SessionID, ev *Event) {
	t.emit(TraceModeEvents, TraceRecord{Session: session, Kind: "event.received", Event: ev})
}

func (t *RemoteTracer) EventExternalSent(from, to SessionID, ev *Event) {
	t.emit(TraceModeEvents, TraceRecord{Session: from, Kind: "event.sent", Event: ev, PeerFrom: from, PeerTo: to})
}

func (t *RemoteTracer) Log(session SessionID, label, message string) {
	t.emit(TraceModeAll, TraceRecord{Session: session, Kind: "log", Name: label, Value: message})
}
