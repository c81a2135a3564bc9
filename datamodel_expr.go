package scxml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/agentflare-ai/go-scxml/expr"
)

func init() {
	RegisterDatamodel(ExpressionDatamodelName, func(g *GlobalData) Datamodel {
		return NewExpressionDatamodel(g)
	})
	RegisterDatamodel(NullDatamodelName, func(g *GlobalData) Datamodel {
		return NewNullDatamodel(g)
	})
}

// ExpressionDatamodel is the default data model, backed by the expr
// engine. Expressions compile lazily and are cached by source id.
type ExpressionDatamodel struct {
	g     *GlobalData
	fsm   *Fsm
	cache *expr.Cache
}

// NewExpressionDatamodel creates the default data model over g.
func NewExpressionDatamodel(g *GlobalData) *ExpressionDatamodel {
	return &ExpressionDatamodel{g: g, cache: expr.NewCache()}
}

var _ Datamodel = (*ExpressionDatamodel)(nil)
var _ expr.Env = (*ExpressionDatamodel)(nil)

// Name implements Datamodel.
func (dm *ExpressionDatamodel) Name() string { return ExpressionDatamodelName }

// Global implements Datamodel.
func (dm *ExpressionDatamodel) Global() *GlobalData { return dm.g }

// Lookup implements expr.Env over the session's variable store.
func (dm *ExpressionDatamodel) Lookup(name string) (expr.Data, bool) {
	return dm.g.DataStore.Get(name)
}

// SetVariable implements expr.Env. The session-wide allow-undefined option
// widens first writes.
func (dm *ExpressionDatamodel) SetVariable(name string, value expr.Data, defineIfMissing bool) error {
	return dm.g.DataStore.Set(name, value, defineIfMissing || dm.g.AllowUndefined())
}

// Call implements expr.Env by dispatching the session's function table.
func (dm *ExpressionDatamodel) Call(ctx context.Context, name string, args []expr.Data) (expr.Data, error) {
	fn, ok := dm.g.Actions.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown function '%s'", name)
	}
	return fn(ctx, dm.g, args)
}

// InitializeGlobals implements Datamodel.
func (dm *ExpressionDatamodel) InitializeGlobals(ctx context.Context, fsm *Fsm) {
	dm.fsm = fsm
	ds := dm.g.DataStore
	ds.SetSystem(SessionIDSystemVariable, expr.Integer(int64(dm.g.SessionID)))
	ds.SetSystem(NameSystemVariable, expr.String(dm.g.Name))

	procs := expr.NewMap()
	for _, p := range dm.g.Processors {
		entry := expr.NewMap()
		entry.Set("location", expr.String(p.Location(dm.g.SessionID)))
		for _, t := range p.Types() {
			if !strings.Contains(t, "/") {
				procs.Set(t, entry)
			}
		}
	}
	ds.SetSystem(IOProcessorsSystemVariable, procs)

	registerBuiltins(dm.g.Actions, dm)
}

// InitializeDataFrom implements Datamodel.
func (dm *ExpressionDatamodel) InitializeDataFrom(ctx context.Context, decls []DataDecl, bind bool) {
	for _, d := range decls {
		if !bind {
			// Late binding installs the name as absent; the first write
			// later leaves it writable.
			_ = dm.g.DataStore.Define(d.ID, expr.None{})
			continue
		}
		_ = dm.g.DataStore.Define(d.ID, dm.evalDataDecl(ctx, d))
	}
}

func (dm *ExpressionDatamodel) evalDataDecl(ctx context.Context, d DataDecl) expr.Data {
	switch {
	case !d.Expr.Empty():
		v, err := dm.eval(ctx, d.Expr)
		if err != nil {
			dm.ErrorExecution(ctx, fmt.Sprintf("data '%s': %v", d.ID, err))
			return expr.None{}
		}
		return v
	case d.Src != "":
		data, err := os.ReadFile(strings.TrimPrefix(d.Src, "file:"))
		if err != nil {
			dm.ErrorExecution(ctx, fmt.Sprintf("data '%s' src: %v", d.ID, err))
			return expr.None{}
		}
		if v, err := dm.eval(ctx, expr.Source{Code: strings.TrimSpace(string(data))}); err == nil {
			return v
		}
		return expr.String(strings.TrimSpace(string(data)))
	case d.Content != "":
		// Content first tries to parse as an expression; plain text
		// degrades to a string value.
		if v, err := dm.eval(ctx, expr.Source{Code: d.Content}); err == nil {
			return v
		}
		return expr.String(strings.TrimSpace(d.Content))
	default:
		return expr.None{}
	}
}

// SetEvent implements Datamodel.
func (dm *ExpressionDatamodel) SetEvent(event *Event) {
	m := expr.NewMap()
	m.Set(EventFieldName, expr.String(event.Name))
	m.Set(EventFieldType, expr.String(string(event.Type)))
	m.Set(EventFieldSendID, stringOrNone(event.SendID))
	m.Set(EventFieldOrigin, stringOrNone(event.Origin))
	m.Set(EventFieldOriginType, stringOrNone(event.OriginType))
	m.Set(EventFieldInvokeID, stringOrNone(event.InvokeID))
	m.Set(EventFieldData, event.DataValue())
	dm.g.DataStore.SetSystem(EventSystemVariable, m)
}

func stringOrNone(s string) expr.Data {
	if s == "" {
		return expr.None{}
	}
	return expr.String(s)
}

func (dm *ExpressionDatamodel) eval(ctx context.Context, source expr.Source) (expr.Data, error) {
	compiled, err := dm.cache.Compile(source)
	if err != nil {
		return nil, err
	}
	return compiled.Eval(ctx, dm)
}

// Assign implements Datamodel.
func (dm *ExpressionDatamodel) Assign(ctx context.Context, location expr.Source, value expr.Data) error {
	compiled, err := dm.cache.Compile(location)
	if err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("assign to '%s': %v", location.Code, err))
		return err
	}
	if err := expr.AssignTo(ctx, compiled, value, dm, dm.g.AllowUndefined()); err != nil {
		dm.ErrorExecution(ctx, fmt.Sprintf("assign to '%s': %v", location.Code, err))
		return err
	}
	return nil
}

// GetByLocation implements Datamodel.
func (dm *ExpressionDatamodel) GetByLocation(ctx context.Context, location string) (expr.Data, error) {
	return dm.eval(ctx, expr.Source{Code: location})
}

// Execute implements Datamodel.
func (dm *ExpressionDatamodel) Execute(ctx context.Context, source expr.Source) (expr.Data, error) {
	v, err := dm.eval(ctx, source)
	if err != nil {
		return nil, err
	}
	switch v.(type) {
	case *expr.Array, *expr.Map:
		return nil, fmt.Errorf("illegal result type for script: %s", v.String())
	}
	return v, nil
}

// ExecuteCondition implements Datamodel.
func (dm *ExpressionDatamodel) ExecuteCondition(ctx context.Context, source expr.Source) (bool, error) {
	v, err := dm.eval(ctx, source)
	if err != nil {
		return false, err
	}
	return expr.ToBoolean(v), nil
}

// ExecuteForEach implements Datamodel.
func (dm *ExpressionDatamodel) ExecuteForEach(ctx context.Context, arraySource expr.Source, item, index string, body func() bool) error {
	v, err := dm.eval(ctx, arraySource)
	if err != nil {
		return err
	}
	bindLoopVar := func(name string, value expr.Data) error {
		return dm.g.DataStore.Set(name, value, true)
	}
	switch c := v.(type) {
	case *expr.Array:
		for i, it := range c.Items() {
			if err := bindLoopVar(item, it); err != nil {
				return err
			}
			if index != "" {
				if err := bindLoopVar(index, expr.Integer(int64(i))); err != nil {
					return err
				}
			}
			if !body() {
				break
			}
		}
		return nil
	case *expr.Map:
		for _, k := range c.Keys() {
			mv, _ := c.Get(k)
			if err := bindLoopVar(item, mv); err != nil {
				return err
			}
			if index != "" {
				if err := bindLoopVar(index, expr.String(k)); err != nil {
					return err
				}
			}
			if !body() {
				break
			}
		}
		return nil
	}
	return fmt.Errorf("foreach source is %s, not an array or map", v.String())
}

// ErrorExecution implements Datamodel.
func (dm *ExpressionDatamodel) ErrorExecution(ctx context.Context, msg string) {
	slog.DebugContext(ctx, "error.execution", "session", dm.g.SessionID, "reason", msg)
	dm.g.EnqueueInternalError()
}

// ErrorCommunication implements Datamodel.
func (dm *ExpressionDatamodel) ErrorCommunication(ctx context.Context, msg string) {
	slog.DebugContext(ctx, "error.communication", "session", dm.g.SessionID, "reason", msg)
	ev := ErrorCommunicationEvent(dm.g.CurrentEvent)
	dm.g.EnqueueInternal(ev)
}

// registerBuiltins installs the mandatory function table: In plus the
// convenience helpers the expression grammar exposes.
func registerBuiltins(at *ActionTable, dm *ExpressionDatamodel) {
	at.Register("In", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'In'")
		}
		name, ok := args[0].(expr.String)
		if !ok {
			return nil, fmt.Errorf("argument of 'In' must be a state id")
		}
		if dm.fsm == nil || g.Configuration == nil {
			return expr.Boolean(false), nil
		}
		id, ok := dm.fsm.StateByName(string(name))
		if !ok {
			return expr.Boolean(false), nil
		}
		return expr.Boolean(g.Configuration.IsMember(id)), nil
	})

	at.Register("indexOf", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("wrong number of arguments for 'indexOf'")
		}
		switch c := args[0].(type) {
		case expr.String:
			needle, ok := args[1].(expr.String)
			if !ok {
				return nil, fmt.Errorf("illegal argument types for 'indexOf'")
			}
			return expr.Integer(int64(strings.Index(string(c), string(needle)))), nil
		case *expr.Array:
			for i, it := range c.Items() {
				if expr.Equal(it, args[1]) {
					return expr.Integer(int64(i)), nil
				}
			}
			return expr.Integer(-1), nil
		}
		return nil, fmt.Errorf("illegal argument types for 'indexOf'")
	})

	at.Register("length", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'length'")
		}
		switch c := args[0].(type) {
		case expr.String:
			return expr.Integer(int64(len(c))), nil
		case *expr.Array:
			return expr.Integer(int64(c.Len())), nil
		case *expr.Map:
			return expr.Integer(int64(c.Len())), nil
		}
		return nil, fmt.Errorf("wrong argument type for 'length'")
	})

	at.Register("isDefined", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'isDefined'")
		}
		_, isNone := args[0].(expr.None)
		return expr.Boolean(!isNone), nil
	})

	at.Register("abs", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'abs'")
		}
		switch v := args[0].(type) {
		case expr.Integer:
			if v < 0 {
				return -v, nil
			}
			return v, nil
		case expr.Double:
			return expr.Double(math.Abs(float64(v))), nil
		}
		return nil, fmt.Errorf("wrong argument type for 'abs'")
	})

	at.Register("toString", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("wrong number of arguments for 'toString'")
		}
		return expr.String(args[0].String()), nil
	})

	at.Register("log", func(ctx context.Context, g *GlobalData, args []expr.Data) (expr.Data, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		slog.InfoContext(ctx, strings.Join(parts, " "), "session", g.SessionID)
		return expr.None{}, nil
	})
}
