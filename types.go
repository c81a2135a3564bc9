// Package scxml implements the core of an SCXML interpreter: the immutable
// state-machine document model, the W3C interpretation algorithm, the
// session runtime with internal/external event queues and delayed sends,
// pluggable data models and pluggable Event-I/O processors.
package scxml

import (
	"fmt"

	"github.com/agentflare-ai/go-scxml/expr"
)

// SessionID identifies a running FSM instance, process-unique.
type SessionID uint32

// EventType represents the type of an SCXML event.
type EventType string

const (
	EventTypeInternal EventType = "internal"
	EventTypeExternal EventType = "external"
	EventTypePlatform EventType = "platform"
)

// System variable names (read-only at runtime).
const (
	SessionIDSystemVariable    = "_sessionid"
	NameSystemVariable         = "_name"
	EventSystemVariable        = "_event"
	IOProcessorsSystemVariable = "_ioprocessors"
)

// Fields of the _event system variable.
const (
	EventFieldName       = "name"
	EventFieldType       = "type"
	EventFieldSendID     = "sendid"
	EventFieldOrigin     = "origin"
	EventFieldOriginType = "origintype"
	EventFieldInvokeID   = "invokeid"
	EventFieldData       = "data"
)

// Reserved event names.
const (
	EventErrorExecution     = "error.execution"
	EventErrorCommunication = "error.communication"
	DoneStateEventPrefix    = "done.state."
	DoneInvokeEventPrefix   = "done.invoke."

	// EventCancelSession is the reserved name of the cooperative shutdown
	// event. Delivery terminates the receiving session.
	EventCancelSession = "cancel.session"
)

// Event I/O processor type URIs.
const (
	ScxmlEventProcessorType      = "http://www.w3.org/TR/scxml/#SCXMLEventProcessor"
	ScxmlEventProcessorShortType = "scxml"
	BasicHTTPEventProcessorType  = "http://www.w3.org/TR/scxml/#BasicHTTPEventProcessor"
	BasicHTTPProcessorShortType  = "basichttp"
)

// Invoke type URIs for child SCXML sessions.
const (
	ScxmlInvokeType      = "http://www.w3.org/TR/scxml/"
	ScxmlInvokeTypeShort = "scxml"
)

// ParamPair is one (name, value) entry of an event payload.
type ParamPair struct {
	Name  string
	Value expr.Data
}

// Event is an SCXML event as defined by the W3C recommendation. Events are
// pass-by-value on dequeue: the value bound into _event.data is copied
// before any transition action runs.
type Event struct {
	Name       string      `json:"name"`
	Type       EventType   `json:"type"`
	SendID     string      `json:"sendid,omitempty"`
	Origin     string      `json:"origin,omitempty"`
	OriginType string      `json:"origintype,omitempty"`
	InvokeID   string      `json:"invokeid,omitempty"`
	Content    expr.Data   `json:"-"`
	Params     []ParamPair `json:"-"`
}

// NewEvent creates an event with the given name and type.
func NewEvent(name string, etype EventType) *Event {
	return &Event{Name: name, Type: etype}
}

// ErrorExecutionEvent creates the platform event raised for expression,
// assignment and action failures. sendid and invokeid carry the metadata of
// the event being processed when the failure happened.
func ErrorExecutionEvent(sendID, invokeID string) *Event {
	return &Event{
		Name:     EventErrorExecution,
		Type:     EventTypePlatform,
		SendID:   sendID,
		InvokeID: invokeID,
	}
}

// ErrorCommunicationEvent creates the platform event raised when an event
// cannot be routed to its target session.
func ErrorCommunicationEvent(cause *Event) *Event {
	ev := &Event{Name: EventErrorCommunication, Type: EventTypePlatform}
	if cause != nil {
		ev.SendID = cause.SendID
		ev.InvokeID = cause.InvokeID
	}
	return ev
}

// DoneStateEvent creates the done.state.<id> event emitted when a compound
// state reaches a final child.
func DoneStateEvent(stateName string, data expr.Data) *Event {
	return &Event{
		Name:    DoneStateEventPrefix + stateName,
		Type:    EventTypeInternal,
		Content: data,
	}
}

// DoneInvokeEvent creates the done.invoke.<invokeid> event sent to the
// parent session when an invoked child terminates.
func DoneInvokeEvent(invokeID string, data expr.Data) *Event {
	return &Event{
		Name:     DoneInvokeEventPrefix + invokeID,
		Type:     EventTypeExternal,
		InvokeID: invokeID,
		Content:  data,
	}
}

// CancelSessionEvent creates the reserved cooperative shutdown event.
func CancelSessionEvent() *Event {
	return NewEvent(EventCancelSession, EventTypeExternal)
}

// Copy returns a deep copy of the event, cloning the content value and the
// parameter list.
func (ev *Event) Copy() *Event {
	cp := *ev
	if ev.Content != nil {
		cp.Content = expr.DeepCopy(ev.Content)
	}
	if len(ev.Params) > 0 {
		cp.Params = make([]ParamPair, len(ev.Params))
		for i, p := range ev.Params {
			cp.Params[i] = ParamPair{Name: p.Name, Value: expr.DeepCopy(p.Value)}
		}
	}
	return &cp
}

// DataValue derives the value bound to _event.data: the content value when
// present, otherwise a map built from the parameter pairs, otherwise None.
func (ev *Event) DataValue() expr.Data {
	if ev.Content != nil {
		return ev.Content
	}
	if len(ev.Params) > 0 {
		m := expr.NewMap()
		for _, p := range ev.Params {
			m.Set(p.Name, p.Value)
		}
		return m
	}
	return expr.None{}
}

func (ev *Event) String() string {
	return fmt.Sprintf("%s(%s)", ev.Name, ev.Type)
}

// IsCancelEvent reports whether ev is the reserved shutdown event.
func (ev *Event) IsCancelEvent() bool {
	return ev.Name == EventCancelSession
}

// PlatformError is an action failure that maps to a platform error event
// (error.execution or error.communication) instead of aborting the session.
type PlatformError struct {
	EventName string
	Message   string
	Cause     error
}

func (e *PlatformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PlatformError) Unwrap() error { return e.Cause }

var _ error = (*PlatformError)(nil)

// ExecutionError is a structural failure surfaced before or outside a
// running macrostep, for example a document that cannot be interpreted.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

var _ error = (*ExecutionError)(nil)

// FinishMode determines what happens when a session reaches a top-level
// final state.
type FinishMode uint8

const (
	// FinishModeKeep leaves the finished session registered with the
	// executor so its final state remains observable.
	FinishModeKeep FinishMode = iota
	// FinishModeDispose removes the session from the executor.
	FinishModeDispose
	// FinishModeNotifyParentAndDispose sends done.invoke.<invokeid> to the
	// parent session, then removes the session. Used for invoked children.
	FinishModeNotifyParentAndDispose
)
