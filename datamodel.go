package scxml

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentflare-ai/go-scxml/expr"
)

// Datamodel option key understood by the executor, "datamodel:<flag>".
const (
	DatamodelOptionPrefix = "datamodel:"

	// AllowUndefinedOption lets <assign> create variables that were never
	// declared.
	AllowUndefinedOption = "allow-undefined"
)

// Names of registered data models.
const (
	ExpressionDatamodelName = "expression"
	NullDatamodelName       = "null"
)

// DataStore is the variable store of a session: name to shared value, with
// a read-only flag per entry.
type DataStore struct {
	values   map[string]expr.Data
	readonly map[string]bool
}

// NewDataStore creates an empty store.
func NewDataStore() *DataStore {
	return &DataStore{values: map[string]expr.Data{}, readonly: map[string]bool{}}
}

// Get returns the value bound to name.
func (ds *DataStore) Get(name string) (expr.Data, bool) {
	v, ok := ds.values[name]
	return v, ok
}

// Set binds name to value. Assignment to an undefined key fails unless
// defineIfMissing is set; assignment to a read-only entry always fails.
func (ds *DataStore) Set(name string, value expr.Data, defineIfMissing bool) error {
	if ds.readonly[name] {
		return fmt.Errorf("'%s' is read-only", name)
	}
	if _, ok := ds.values[name]; !ok && !defineIfMissing {
		return fmt.Errorf("'%s' is not defined", name)
	}
	ds.values[name] = value
	return nil
}

// Define binds name as a writable entry, creating or overwriting it.
// Fails only when the name is already bound read-only.
func (ds *DataStore) Define(name string, value expr.Data) error {
	if ds.readonly[name] {
		return fmt.Errorf("'%s' is read-only", name)
	}
	ds.values[name] = value
	return nil
}

// SetSystem binds a read-only system variable, replacing any previous
// binding.
func (ds *DataStore) SetSystem(name string, value expr.Data) {
	ds.values[name] = value
	ds.readonly[name] = true
}

// IsReadOnly reports whether name is marked read-only.
func (ds *DataStore) IsReadOnly(name string) bool {
	return ds.readonly[name]
}

// Names returns the defined variable names, unordered.
func (ds *DataStore) Names() []string {
	out := make([]string, 0, len(ds.values))
	for k := range ds.values {
		out = append(out, k)
	}
	return out
}

// ActionFunc is a host- or built-in function callable from expressions.
// For method-call syntax the receiver arrives as the first argument.
type ActionFunc func(ctx context.Context, global *GlobalData, args []expr.Data) (expr.Data, error)

// ActionTable is the string-keyed function table installed into the global
// session data at start. The interpreter treats it as read-mostly.
type ActionTable struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewActionTable creates an empty table.
func NewActionTable() *ActionTable {
	return &ActionTable{actions: map[string]ActionFunc{}}
}

// Register binds name to fn, replacing any previous binding.
func (at *ActionTable) Register(name string, fn ActionFunc) {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.actions[name] = fn
}

// Lookup resolves a function by name.
func (at *ActionTable) Lookup(name string) (ActionFunc, bool) {
	at.mu.RLock()
	defer at.mu.RUnlock()
	fn, ok := at.actions[name]
	return fn, ok
}

// invokedSession couples a running child session with the invoke that
// launched it.
type invokedSession struct {
	handle      *SessionHandle
	autoforward bool
	stateID     StateID
	finalize    ContentID
}

// GlobalData is the per-session shared state reachable from the
// interpreter, the data model and the Event-I/O processors. Fields owned
// by the session worker are documented as such; cross-thread tables are
// guarded by the mutex.
type GlobalData struct {
	SessionID       SessionID
	ParentSessionID SessionID
	InvokeID        string
	Name            string
	FinishMode      FinishMode

	InternalQueue *Queue
	ExternalQueue *BlockingQueue

	DataStore *DataStore
	Actions   *ActionTable

	// Processors is the session's copy of the Event-I/O processor set,
	// taken at start so processor shutdown does not race interpretation.
	Processors []EventIOProcessor

	Executor *FsmExecutor
	Tracer   Tracer

	// CurrentEvent is the event being processed, bound before transition
	// actions run. Worker-owned.
	CurrentEvent *Event

	// Configuration mirrors the active state set for In(). Worker-owned.
	Configuration *OrderedSet[StateID]

	// FinalDoneData carries the donedata of the top-level final state for
	// the parent notification. Worker-owned.
	FinalDoneData expr.Data

	Options map[string]string

	mu            sync.Mutex
	childSessions map[string]*invokedSession
	delayedSends  map[string]*time.Timer
}

// NewGlobalData creates the shared state of a fresh session.
func NewGlobalData() *GlobalData {
	return &GlobalData{
		InternalQueue: NewQueue(),
		ExternalQueue: NewBlockingQueue(),
		DataStore:     NewDataStore(),
		Actions:       NewActionTable(),
		Configuration: NewOrderedSet[StateID](),
		Options:       map[string]string{},
		childSessions: map[string]*invokedSession{},
		delayedSends:  map[string]*time.Timer{},
	}
}

// EnqueueInternal appends ev to the internal queue.
func (g *GlobalData) EnqueueInternal(ev *Event) {
	g.InternalQueue.Enqueue(ev)
}

// EnqueueInternalError enqueues an error.execution event carrying the
// metadata of the event currently being processed.
func (g *GlobalData) EnqueueInternalError() {
	var sendID, invokeID string
	if g.CurrentEvent != nil {
		sendID = g.CurrentEvent.SendID
		invokeID = g.CurrentEvent.InvokeID
	}
	g.EnqueueInternal(ErrorExecutionEvent(sendID, invokeID))
}

// AllowUndefined reports whether assignments may create undeclared
// variables.
func (g *GlobalData) AllowUndefined() bool {
	return g.Options[DatamodelOptionPrefix+AllowUndefinedOption] == "true"
}

// ProcessorByType resolves an Event-I/O processor from a <send type=...>
// value, matching either a type URI or a short alias.
func (g *GlobalData) ProcessorByType(typeName string) (EventIOProcessor, bool) {
	name := strings.TrimSpace(typeName)
	if name == "" {
		name = ScxmlEventProcessorShortType
	}
	for _, p := range g.Processors {
		for _, t := range p.Types() {
			if t == name {
				return p, true
			}
		}
	}
	return nil, false
}

// AddChildSession registers an invoked child under its invokeid.
func (g *GlobalData) AddChildSession(invokeID string, handle *SessionHandle, autoforward bool, stateID StateID, finalize ContentID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.childSessions[invokeID] = &invokedSession{
		handle:      handle,
		autoforward: autoforward,
		stateID:     stateID,
		finalize:    finalize,
	}
}

// ChildSession resolves an invoked child by invokeid.
func (g *GlobalData) ChildSession(invokeID string) (*SessionHandle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	is, ok := g.childSessions[invokeID]
	if !ok {
		return nil, false
	}
	return is.handle, true
}

// RemoveChildSession drops the child registered under invokeid.
func (g *GlobalData) RemoveChildSession(invokeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.childSessions, invokeID)
}

// childSessionsSnapshot returns the current child table for iteration on
// the worker.
func (g *GlobalData) childSessionsSnapshot() map[string]*invokedSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*invokedSession, len(g.childSessions))
	for k, v := range g.childSessions {
		out[k] = v
	}
	return out
}

// ScheduleSend registers a delayed send under sendid. fire runs on the
// timer goroutine and must only enqueue.
func (g *GlobalData) ScheduleSend(sendID string, delay time.Duration, fire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.delayedSends[sendID]; ok {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		g.mu.Lock()
		if g.delayedSends[sendID] == timer {
			delete(g.delayedSends, sendID)
		}
		g.mu.Unlock()
		fire()
	})
	g.delayedSends[sendID] = timer
}

// CancelSend removes a scheduled send; unknown ids are a silent no-op.
func (g *GlobalData) CancelSend(sendID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if timer, ok := g.delayedSends[sendID]; ok {
		timer.Stop()
		delete(g.delayedSends, sendID)
	}
}

// CancelAllSends drops every scheduled send; called on termination so
// pending sends whose fire time has not arrived are never delivered.
func (g *GlobalData) CancelAllSends() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, timer := range g.delayedSends {
		timer.Stop()
		delete(g.delayedSends, id)
	}
}

// Datamodel is the abstraction the interpreter consumes for everything
// expression-shaped: variables, assignment, conditions, foreach and the
// read-only system variables.
type Datamodel interface {
	// Name returns the registered data model name.
	Name() string

	// Global returns the session's shared data.
	Global() *GlobalData

	// InitializeGlobals installs _sessionid, _name, _ioprocessors and the
	// built-in function table.
	InitializeGlobals(ctx context.Context, fsm *Fsm)

	// InitializeDataFrom evaluates <data> declarations. With bind the
	// source expression is evaluated and installed; without, the variable
	// is installed as None for late binding. A source that fails to
	// evaluate installs None and raises error.execution.
	InitializeDataFrom(ctx context.Context, decls []DataDecl, bind bool)

	// SetEvent replaces the read-only _event system variable.
	SetEvent(event *Event)

	// Assign performs a structured assignment to a location expression.
	Assign(ctx context.Context, location expr.Source, value expr.Data) error

	// GetByLocation evaluates a location path as a read expression.
	GetByLocation(ctx context.Context, location string) (expr.Data, error)

	// Execute evaluates source. Array and Map results are rejected as
	// illegal for the script slot.
	Execute(ctx context.Context, source expr.Source) (expr.Data, error)

	// ExecuteCondition evaluates source and coerces the result to a
	// boolean per ECMAScript ToBoolean.
	ExecuteCondition(ctx context.Context, source expr.Source) (bool, error)

	// ExecuteForEach iterates the value of arraySource, binding the item
	// (and optional index) variable around each body call. The body
	// returns false to abort.
	ExecuteForEach(ctx context.Context, arraySource expr.Source, item, index string, body func() bool) error

	// ErrorExecution enqueues error.execution with the current _event
	// metadata.
	ErrorExecution(ctx context.Context, msg string)

	// ErrorCommunication enqueues error.communication with the current
	// _event metadata.
	ErrorCommunication(ctx context.Context, msg string)
}

// DatamodelFactory builds a data model over the session's global data.
type DatamodelFactory func(global *GlobalData) Datamodel

var (
	datamodelMu       sync.RWMutex
	datamodelRegistry = map[string]DatamodelFactory{}
)

// RegisterDatamodel installs a factory under the given name, lower-cased.
func RegisterDatamodel(name string, factory DatamodelFactory) {
	datamodelMu.Lock()
	defer datamodelMu.Unlock()
	datamodelRegistry[strings.ToLower(name)] = factory
}

// CreateDatamodel builds the data model registered under name. The empty
// name selects the expression data model; "ecmascript" is aliased to it so
// common documents run unchanged.
func CreateDatamodel(name string, global *GlobalData) (Datamodel, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "ecmascript":
		key = ExpressionDatamodelName
	}
	datamodelMu.RLock()
	factory, ok := datamodelRegistry[key]
	datamodelMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported datamodel '%s'", name)
	}
	return factory(global), nil
}
