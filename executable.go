package scxml

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentflare-ai/go-scxml/expr"
)

// ActionKind tags the closed set of executable content actions, used by
// tracing and the binary codec.
type ActionKind uint8

const (
	ActionKindRaise ActionKind = iota + 1
	ActionKindLog
	ActionKindAssign
	ActionKindScript
	ActionKindIf
	ActionKindForEach
	ActionKindSend
	ActionKindCancel
)

// Action is one executable content element. Execute runs against the data
// model; a non-nil error aborts the rest of the enclosing block (the
// macrostep continues, the failing action has already enqueued its error
// event).
type Action interface {
	Kind() ActionKind
	Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error
}

// ExecuteBlock runs the content block with the given id, stopping at the
// first failing action.
func ExecuteBlock(ctx context.Context, dm Datamodel, fsm *Fsm, id ContentID) error {
	for _, a := range fsm.ContentBlock(id) {
		if err := a.Execute(ctx, dm, fsm); err != nil {
			return err
		}
	}
	return nil
}

// RaiseAction implements <raise>: enqueue an internal event.
type RaiseAction struct {
	Event string
}

func (a *RaiseAction) Kind() ActionKind { return ActionKindRaise }

func (a *RaiseAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	dm.Global().EnqueueInternal(NewEvent(a.Event, EventTypeInternal))
	return nil
}

// LogAction implements <log>. Logging never fails the enclosing block.
type LogAction struct {
	Label string
	Expr  expr.Source
}

func (a *LogAction) Kind() ActionKind { return ActionKindLog }

func (a *LogAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	msg := ""
	if !a.Expr.Empty() {
		v, err := dm.Execute(ctx, a.Expr)
		if err != nil {
			dm.ErrorExecution(ctx, fmt.Sprintf("log: %v", err))
			return nil
		}
		msg = v.String()
	}
	g := dm.Global()
	if g.Tracer != nil {
		g.Tracer.Log(g.SessionID, a.Label, msg)
	}
	return nil
}

// AssignAction implements <assign>.
type AssignAction struct {
	Location expr.Source
	Expr     expr.Source
}

func (a *AssignAction) Kind() ActionKind { return ActionKindAssign }

func (a *AssignAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	v, err := dm.Execute(ctx, a.Expr)
	if err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("assign '%s': %v", a.Location.Code, err))
		return err
	}
	// Assign raises error.execution itself on failure.
	return dm.Assign(ctx, a.Location, v)
}

// ScriptAction implements <script>.
type ScriptAction struct {
	Source expr.Source
}

func (a *ScriptAction) Kind() ActionKind { return ActionKindScript }

func (a *ScriptAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	if a.Source.Empty() {
		return nil
	}
	if _, err := dm.Execute(ctx, a.Source); err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("script: %v", err))
		return err
	}
	return nil
}

// IfAction implements <if>/<elseif>/<else>. An elseif chain is encoded by
// the else content holding another IfAction.
type IfAction struct {
	Cond expr.Source
	Then ContentID
	Else ContentID
}

func (a *IfAction) Kind() ActionKind { return ActionKindIf }

func (a *IfAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	ok, err := dm.ExecuteCondition(ctx, a.Cond)
	if err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("if '%s': %v", a.Cond.Code, err))
		return err
	}
	if ok {
		return ExecuteBlock(ctx, dm, fsm, a.Then)
	}
	return ExecuteBlock(ctx, dm, fsm, a.Else)
}

// ForEachAction implements <foreach>: iterate an array or map in insertion
// order, aborting on the first body failure.
type ForEachAction struct {
	Array expr.Source
	Item  string
	Index string
	Body  ContentID
}

func (a *ForEachAction) Kind() ActionKind { return ActionKindForEach }

func (a *ForEachAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	var bodyErr error
	err := dm.ExecuteForEach(ctx, a.Array, a.Item, a.Index, func() bool {
		if err := ExecuteBlock(ctx, dm, fsm, a.Body); err != nil {
			bodyErr = err
			return false
		}
		return true
	})
	if err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("foreach '%s': %v", a.Array.Code, err))
		return err
	}
	return bodyErr
}

// SendAction implements <send>. All parameters are evaluated immediately
// when the action runs; only the routing is deferred for delayed sends.
type SendAction struct {
	Event      string
	EventExpr  expr.Source
	Target     string
	TargetExpr expr.Source
	TypeName   string
	TypeExpr   expr.Source
	SendID     string
	IDLocation string
	Delay      string
	DelayExpr  expr.Source
	Namelist   []string
	Params     []ParamDecl
	Content    *CommonContent
}

func (a *SendAction) Kind() ActionKind { return ActionKindSend }

func (a *SendAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	g := dm.Global()

	fail := func(format string, args ...any) error {
		err := fmt.Errorf(format, args...)
		dm.ErrorExecution(ctx, "send: "+err.Error())
		return err
	}

	eventName := a.Event
	if !a.EventExpr.Empty() {
		v, err := dm.Execute(ctx, a.EventExpr)
		if err != nil {
			return fail("eventexpr: %w", err)
		}
		eventName = v.String()
	}
	target := a.Target
	if !a.TargetExpr.Empty() {
		v, err := dm.Execute(ctx, a.TargetExpr)
		if err != nil {
			return fail("targetexpr: %w", err)
		}
		target = v.String()
	}
	typeName := a.TypeName
	if !a.TypeExpr.Empty() {
		v, err := dm.Execute(ctx, a.TypeExpr)
		if err != nil {
			return fail("typeexpr: %w", err)
		}
		typeName = v.String()
	}

	sendID := a.SendID
	if sendID == "" {
		sendID = uuid.NewString()
	}
	if a.IDLocation != "" {
		if err := dm.Assign(ctx, expr.Source{Code: a.IDLocation}, expr.String(sendID)); err != nil {
			return err
		}
	}

	delayStr := a.Delay
	if !a.DelayExpr.Empty() {
		v, err := dm.Execute(ctx, a.DelayExpr)
		if err != nil {
			return fail("delayexpr: %w", err)
		}
		delayStr = v.String()
	}
	delay, err := ParseDelay(delayStr)
	if err != nil {
		return fail("delay '%s': %w", delayStr, err)
	}
	if delay > 0 && target == ScxmlTargetInternal {
		return fail("delayed send to %s is not allowed", ScxmlTargetInternal)
	}

	proc, ok := g.ProcessorByType(typeName)
	if !ok {
		return fail("unsupported send type '%s'", typeName)
	}

	ev := &Event{
		Name:   eventName,
		Type:   EventTypeExternal,
		SendID: sendID,
	}
	for _, loc := range a.Namelist {
		v, err := dm.GetByLocation(ctx, loc)
		if err != nil {
			return fail("namelist '%s': %w", loc, err)
		}
		ev.Params = append(ev.Params, ParamPair{Name: loc, Value: v})
	}
	for _, p := range a.Params {
		v, err := evalParam(ctx, dm, p)
		if err != nil {
			return fail("param '%s': %w", p.Name, err)
		}
		ev.Params = append(ev.Params, ParamPair{Name: p.Name, Value: v})
	}
	if a.Content != nil {
		v, err := evalContent(ctx, dm, a.Content)
		if err != nil {
			// A bad <content expr> proceeds with empty content.
			dm.ErrorExecution(ctx, fmt.Sprintf("send content: %v", err))
		} else {
			ev.Content = v
		}
	}

	if delay <= 0 {
		proc.Send(ctx, g, target, ev)
		return nil
	}
	g.ScheduleSend(sendID, delay, func() {
		proc.Send(context.Background(), g, target, ev)
	})
	return nil
}

// CancelAction implements <cancel>: remove a scheduled send. Unknown
// sendids are a silent no-op.
type CancelAction struct {
	SendID     string
	SendIDExpr expr.Source
}

func (a *CancelAction) Kind() ActionKind { return ActionKindCancel }

func (a *CancelAction) Execute(ctx context.Context, dm Datamodel, fsm *Fsm) error {
	sendID := a.SendID
	if !a.SendIDExpr.Empty() {
		v, err := dm.Execute(ctx, a.SendIDExpr)
		if err != nil {
			dm.ErrorExecution(ctx, fmt.Sprintf("cancel: %v", err))
			return err
		}
		sendID = v.String()
	}
	dm.Global().CancelSend(sendID)
	return nil
}

// evalParam resolves a <param> value from its expression or location.
func evalParam(ctx context.Context, dm Datamodel, p ParamDecl) (expr.Data, error) {
	if !p.Expr.Empty() {
		return dm.Execute(ctx, p.Expr)
	}
	if p.Location != "" {
		return dm.GetByLocation(ctx, p.Location)
	}
	return expr.None{}, nil
}

// evalContent resolves a <content> payload.
func evalContent(ctx context.Context, dm Datamodel, c *CommonContent) (expr.Data, error) {
	if c == nil {
		return expr.None{}, nil
	}
	if !c.Expr.Empty() {
		return dm.Execute(ctx, c.Expr)
	}
	if c.Content == "" {
		return expr.None{}, nil
	}
	text := strings.TrimSpace(c.Content)
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return expr.Integer(i), nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return expr.Double(f), nil
	}
	return expr.String(text), nil
}

// ParseDelay parses a CSS2-style delay: "1s", "50ms", "0.5s" or a bare
// number of milliseconds. The empty string is zero.
func ParseDelay(s string) (time.Duration, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseFloat(t, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	switch {
	case strings.HasSuffix(t, "ms"):
		v, err := strconv.ParseFloat(strings.TrimSpace(t[:len(t)-2]), 64)
		if err != nil {
			return 0, fmt.Errorf("bad delay %q", s)
		}
		return time.Duration(v * float64(time.Millisecond)), nil
	case strings.HasSuffix(t, "s"):
		v, err := strconv.ParseFloat(strings.TrimSpace(t[:len(t)-1]), 64)
		if err != nil {
			return 0, fmt.Errorf("bad delay %q", s)
		}
		return time.Duration(v * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("bad delay %q", s)
}
