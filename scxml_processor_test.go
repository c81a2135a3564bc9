package scxml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoutingGlobal() *GlobalData {
	g := NewGlobalData()
	g.SessionID = 3
	return g
}

func TestScxmlProcessorEmptyTargetLoopsBack(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, "", NewEvent("e", EventTypeExternal))
	assert.True(t, ok)

	ev := g.ExternalQueue.TryDequeue()
	require.NotNil(t, ev)
	assert.Equal(t, ScxmlEventProcessorType, ev.OriginType)
	assert.Equal(t, "#_scxml_3", ev.Origin)
}

func TestScxmlProcessorInternalTarget(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, ScxmlTargetInternal, NewEvent("e", EventTypeExternal))
	assert.True(t, ok)

	ev := g.InternalQueue.Dequeue()
	require.NotNil(t, ev)
	assert.Equal(t, EventTypeInternal, ev.Type, "internal target forces the internal event type")
}

func TestScxmlProcessorParentWithoutParent(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, ScxmlTargetParent, NewEvent("e", EventTypeExternal))
	assert.False(t, ok)
	assert.Equal(t, EventErrorCommunication, g.InternalQueue.Dequeue().Name)
}

func TestScxmlProcessorMalformedSessionTarget(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, "#_scxml_not-a-number", NewEvent("e", EventTypeExternal))
	assert.False(t, ok)
	assert.Equal(t, EventErrorCommunication, g.InternalQueue.Dequeue().Name)
}

func TestScxmlProcessorUnknownInvokeID(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, "#_nokid", NewEvent("e", EventTypeExternal))
	assert.False(t, ok)
	assert.Equal(t, EventErrorCommunication, g.InternalQueue.Dequeue().Name)
}

func TestScxmlProcessorUnsupportedTargetForm(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()
	ok := p.Send(context.Background(), g, "mailto:nobody@example.com", NewEvent("e", EventTypeExternal))
	assert.False(t, ok)
	assert.Equal(t, EventErrorExecution, g.InternalQueue.Dequeue().Name)
}

func TestScxmlProcessorKnownInvokeID(t *testing.T) {
	p := NewScxmlEventProcessor()
	g := newRoutingGlobal()

	x := NewFsmExecutor()
	g.Executor = x
	child := &SessionHandle{SessionID: 9, ExternalQueue: NewBlockingQueue(), done: make(chan struct{})}
	x.sessions[9] = child
	g.AddChildSession("kid", child, false, 0, 0)

	ok := p.Send(context.Background(), g, "#_kid", NewEvent("ping", EventTypeExternal))
	assert.True(t, ok)
	ev := child.ExternalQueue.TryDequeue()
	require.NotNil(t, ev)
	assert.Equal(t, "ping", ev.Name)
}

func TestProcessorTypeResolution(t *testing.T) {
	g := newRoutingGlobal()
	g.Processors = []EventIOProcessor{NewScxmlEventProcessor()}

	_, ok := g.ProcessorByType("")
	assert.True(t, ok, "empty type defaults to the SCXML processor")
	_, ok = g.ProcessorByType("scxml")
	assert.True(t, ok)
	_, ok = g.ProcessorByType(ScxmlEventProcessorType)
	assert.True(t, ok)
	_, ok = g.ProcessorByType("smtp")
	assert.False(t, ok)
}
