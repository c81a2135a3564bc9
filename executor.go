package scxml

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentflare-ai/go-scxml/expr"
)

// newPlatformID generates a platform identifier for sendids and invokeids.
func newPlatformID() string {
	return uuid.NewString()
}

// DocumentLoaderFunc loads a child document for <invoke>: src is a URI or
// path, content an inline document. Exactly one of the two is set.
type DocumentLoaderFunc func(src, content string) (*Fsm, error)

// SessionHandle is the executor's view of a running session. Peers inject
// events through the external queue; Wait blocks until the worker
// finishes.
type SessionHandle struct {
	SessionID     SessionID
	InvokeID      string
	ExternalQueue *BlockingQueue

	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Send enqueues ev on the session's external queue.
func (h *SessionHandle) Send(ev *Event) {
	h.ExternalQueue.Enqueue(ev)
}

// Cancel requests cooperative shutdown.
func (h *SessionHandle) Cancel() {
	h.ExternalQueue.Enqueue(CancelSessionEvent())
}

// Done is closed when the session worker has finished.
func (h *SessionHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the worker finishes or ctx is cancelled, returning the
// worker's error.
func (h *SessionHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}

// Err returns the worker's terminal error, nil while running.
func (h *SessionHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *SessionHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// ExecuteOptions parameterise one session start.
type ExecuteOptions struct {
	// Data seeds the variable store before interpretation starts.
	Data map[string]expr.Data
	// Options are datamodel flags such as "datamodel:allow-undefined".
	Options map[string]string
	// DatamodelName overrides the document's declared data model.
	DatamodelName string
	// Parent and InvokeID couple an invoked child to its parent session.
	Parent   SessionID
	InvokeID string
	// FinishMode controls top-level final handling.
	FinishMode FinishMode
	// Tracer overrides the executor's tracer factory for this session.
	Tracer Tracer
}

// FsmExecutor owns the session table and the Event-I/O processor set. It
// spawns one worker per session; all cross-session traffic goes through
// the queues.
type FsmExecutor struct {
	mu         sync.Mutex
	sessions   map[SessionID]*SessionHandle
	processors []EventIOProcessor
	loader     DocumentLoaderFunc

	// TracerFactory builds the per-session tracer; nil disables tracing.
	TracerFactory TracerFactory

	nextSession atomic.Uint32
	eg          *errgroup.Group
	ctx         context.Context
	cancel      context.CancelFunc
	shutdown    atomic.Bool
}

// ExecutorOption configures a new executor.
type ExecutorOption func(*FsmExecutor)

// WithProcessor registers an additional Event-I/O processor.
func WithProcessor(p EventIOProcessor) ExecutorOption {
	return func(x *FsmExecutor) { x.processors = append(x.processors, p) }
}

// WithDocumentLoader installs the loader used by <invoke> to obtain child
// documents.
func WithDocumentLoader(loader DocumentLoaderFunc) ExecutorOption {
	return func(x *FsmExecutor) { x.loader = loader }
}

// WithTracerFactory installs a per-session tracer factory.
func WithTracerFactory(factory TracerFactory) ExecutorOption {
	return func(x *FsmExecutor) { x.TracerFactory = factory }
}

// NewFsmExecutor creates an executor with the SCXML Event I/O processor
// installed.
func NewFsmExecutor(opts ...ExecutorOption) *FsmExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	x := &FsmExecutor{
		sessions:   map[SessionID]*SessionHandle{},
		processors: []EventIOProcessor{NewScxmlEventProcessor()},
		eg:         eg,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute starts a session for the given document and returns its handle.
// The worker owns the internal queue and all configuration mutation; the
// handle's external queue is the only way in.
func (x *FsmExecutor) Execute(ctx context.Context, fsm *Fsm, opts ExecuteOptions) (*SessionHandle, error) {
	if x.shutdown.Load() {
		return nil, fmt.Errorf("executor is shut down")
	}
	if fsm == nil || len(fsm.States) == 0 {
		return nil, &ExecutionError{Message: "cannot execute an empty document"}
	}

	sessionID := SessionID(x.nextSession.Add(1))

	g := NewGlobalData()
	g.SessionID = sessionID
	g.ParentSessionID = opts.Parent
	g.InvokeID = opts.InvokeID
	g.Name = fsm.Name
	g.FinishMode = opts.FinishMode
	g.Executor = x
	for k, v := range opts.Options {
		g.Options[k] = v
	}
	for _, p := range x.processors {
		g.Processors = append(g.Processors, p.Copy())
	}
	if opts.Tracer != nil {
		g.Tracer = opts.Tracer
	} else if x.TracerFactory != nil {
		g.Tracer = x.TracerFactory()
	}

	datamodelName := fsm.DatamodelName
	if opts.DatamodelName != "" {
		datamodelName = opts.DatamodelName
	}
	dm, err := CreateDatamodel(datamodelName, g)
	if err != nil {
		return nil, err
	}
	for name, value := range opts.Data {
		if err := g.DataStore.Define(name, value); err != nil {
			return nil, fmt.Errorf("initial data '%s': %w", name, err)
		}
	}

	handle := &SessionHandle{
		SessionID:     sessionID,
		InvokeID:      opts.InvokeID,
		ExternalQueue: g.ExternalQueue,
		done:          make(chan struct{}),
	}
	x.mu.Lock()
	x.sessions[sessionID] = handle
	x.mu.Unlock()

	sess := newSession(fsm, dm)
	x.eg.Go(func() error {
		err := sess.interpret(x.ctx)
		if err != nil {
			slog.Error("session worker failed", "session", sessionID, "err", err)
		}
		// The error is reported through the handle; a failed session must
		// not tear down its peers.
		x.finishSession(g, handle, err)
		return nil
	})
	return handle, nil
}

// finishSession applies the finish mode once a worker returns.
func (x *FsmExecutor) finishSession(g *GlobalData, handle *SessionHandle, err error) {
	handle.ExternalQueue.Close()
	switch g.FinishMode {
	case FinishModeNotifyParentAndDispose:
		if g.ParentSessionID != 0 {
			done := DoneInvokeEvent(g.InvokeID, g.FinalDoneData)
			done.Origin = NewScxmlEventProcessor().Location(g.SessionID)
			done.OriginType = ScxmlEventProcessorType
			if sendErr := x.SendToSession(g.ParentSessionID, done); sendErr != nil {
				slog.Debug("parent session gone before done.invoke", "session", g.SessionID, "parent", g.ParentSessionID)
			}
		}
		x.removeSession(handle.SessionID)
	case FinishModeDispose:
		x.removeSession(handle.SessionID)
	}
	handle.finish(err)
}

// SendToSession enqueues ev on the external queue of the given session.
func (x *FsmExecutor) SendToSession(sid SessionID, ev *Event) error {
	x.mu.Lock()
	handle, ok := x.sessions[sid]
	x.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %d is not accessible", sid)
	}
	if handle.ExternalQueue.IsClosed() {
		return fmt.Errorf("session %d has terminated", sid)
	}
	handle.ExternalQueue.Enqueue(ev)
	return nil
}

// Session resolves a live session handle by id.
func (x *FsmExecutor) Session(sid SessionID) (*SessionHandle, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.sessions[sid]
	return h, ok
}

func (x *FsmExecutor) removeSession(sid SessionID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.sessions, sid)
}

func (x *FsmExecutor) loadDocument(src, content string) (*Fsm, error) {
	if x.loader == nil {
		return nil, fmt.Errorf("no document loader configured")
	}
	return x.loader(src, content)
}

// Shutdown sends the cancel event to every live session, waits for the
// workers to finish and shuts the processors down. After the deadline of
// ctx the workers are cut off hard.
func (x *FsmExecutor) Shutdown(ctx context.Context) error {
	if !x.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	x.mu.Lock()
	handles := make([]*SessionHandle, 0, len(x.sessions))
	for _, h := range x.sessions {
		handles = append(handles, h)
	}
	x.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- x.eg.Wait() }()

	var err error
	select {
	case err = <-waitDone:
	case <-ctx.Done():
		x.cancel()
		err = <-waitDone
	}
	x.cancel()

	for _, p := range x.processors {
		p.Shutdown(ctx)
	}
	return err
}
