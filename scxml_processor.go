package scxml

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SCXML Event I/O processor targets.
const (
	// ScxmlTargetInternal addresses the sender's own internal queue.
	ScxmlTargetInternal = "#_internal"
	// ScxmlTargetParent addresses the invoking session's external queue.
	ScxmlTargetParent = "#_parent"
	// ScxmlTargetSessionPrefix addresses a session by id, "#_scxml_<sid>".
	ScxmlTargetSessionPrefix = "#_scxml_"
	// ScxmlTargetInvokePrefix addresses an invoked child, "#_<invokeid>".
	// It is a prefix of the other targets and is matched last.
	ScxmlTargetInvokePrefix = "#_"
)

// ScxmlEventProcessor is the mandatory SCXML Event I/O processor: it routes
// events between sessions of the same executor.
type ScxmlEventProcessor struct{}

// NewScxmlEventProcessor creates the processor.
func NewScxmlEventProcessor() *ScxmlEventProcessor {
	return &ScxmlEventProcessor{}
}

var _ EventIOProcessor = (*ScxmlEventProcessor)(nil)

// Types implements EventIOProcessor.
func (p *ScxmlEventProcessor) Types() []string {
	return []string{ScxmlEventProcessorType, ScxmlEventProcessorShortType}
}

// Location implements EventIOProcessor.
func (p *ScxmlEventProcessor) Location(sessionID SessionID) string {
	return fmt.Sprintf("%s%d", ScxmlTargetSessionPrefix, sessionID)
}

// Copy implements EventIOProcessor; the processor is stateless.
func (p *ScxmlEventProcessor) Copy() EventIOProcessor { return p }

// Shutdown implements EventIOProcessor.
func (p *ScxmlEventProcessor) Shutdown(ctx context.Context) {}

// Send implements the target routing of the recommendation: the empty
// target is the sender's own external queue, #_internal the sender's
// internal queue, #_parent the parent session, #_scxml_<sid> a session by
// id and #_<invokeid> an invoked child. Unknown sessions raise
// error.communication, unsupported target forms error.execution.
func (p *ScxmlEventProcessor) Send(ctx context.Context, g *GlobalData, target string, ev *Event) bool {
	ev.OriginType = ScxmlEventProcessorType
	if ev.Origin == "" {
		ev.Origin = p.Location(g.SessionID)
	}
	switch target {
	case "":
		g.ExternalQueue.Enqueue(ev)
		return true
	case ScxmlTargetInternal:
		ev.Type = EventTypeInternal
		g.EnqueueInternal(ev)
		return true
	case ScxmlTargetParent:
		if g.ParentSessionID == 0 {
			slog.DebugContext(ctx, "send to #_parent without a parent session", "session", g.SessionID)
			g.EnqueueInternal(ErrorCommunicationEvent(ev))
			return false
		}
		return p.sendToSession(ctx, g, g.ParentSessionID, ev)
	}
	if strings.HasPrefix(target, ScxmlTargetSessionPrefix) {
		sidText := target[len(ScxmlTargetSessionPrefix):]
		sid, err := strconv.ParseUint(sidText, 10, 32)
		if err != nil {
			slog.DebugContext(ctx, "malformed session target", "target", target)
			g.EnqueueInternal(ErrorCommunicationEvent(ev))
			return false
		}
		return p.sendToSession(ctx, g, SessionID(sid), ev)
	}
	if strings.HasPrefix(target, ScxmlTargetInvokePrefix) {
		invokeID := target[len(ScxmlTargetInvokePrefix):]
		child, ok := g.ChildSession(invokeID)
		if !ok {
			slog.DebugContext(ctx, "unknown invokeid target", "target", target, "session", g.SessionID)
			g.EnqueueInternal(ErrorCommunicationEvent(ev))
			return false
		}
		return p.sendToSession(ctx, g, child.SessionID, ev)
	}
	// Unsupported target form.
	g.EnqueueInternal(ErrorExecutionEvent(ev.SendID, ev.InvokeID))
	return false
}

func (p *ScxmlEventProcessor) sendToSession(ctx context.Context, g *GlobalData, sid SessionID, ev *Event) bool {
	if g.Executor == nil {
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	if err := g.Executor.SendToSession(sid, ev); err != nil {
		slog.DebugContext(ctx, "cannot route event", "target", sid, "event", ev.Name, "err", err)
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	if g.Tracer != nil {
		g.Tracer.EventExternalSent(g.SessionID, sid, ev)
	}
	return true
}
