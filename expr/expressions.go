package expr

import (
	"context"
	"fmt"
)

// Env is the evaluation environment an expression runs against. The
// expression data model implements it on top of the session's variable
// store and function table.
type Env interface {
	// Lookup resolves a variable by name.
	Lookup(name string) (Data, bool)

	// SetVariable binds a variable. When defineIfMissing is false the
	// assignment fails for unknown names; read-only entries always fail.
	SetVariable(name string, value Data, defineIfMissing bool) error

	// Call dispatches a function from the session's function table. For
	// method-call syntax the receiver is passed as the first argument.
	Call(ctx context.Context, name string, args []Data) (Data, error)
}

// Expression is a compiled, reusable expression node.
type Expression interface {
	Eval(ctx context.Context, env Env) (Data, error)
}

type constantExpr struct {
	value Data
}

func (e *constantExpr) Eval(ctx context.Context, env Env) (Data, error) {
	return e.value, nil
}

type variableExpr struct {
	name string
}

func (e *variableExpr) Eval(ctx context.Context, env Env) (Data, error) {
	// Undefined names read as None so isDefined() can probe them.
	if v, ok := env.Lookup(e.name); ok {
		return v, nil
	}
	return None{}, nil
}

type memberExpr struct {
	object Expression
	name   string
}

func (e *memberExpr) Eval(ctx context.Context, env Env) (Data, error) {
	obj, err := e.object.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	m, ok := obj.(*Map)
	if !ok {
		return nil, fmt.Errorf("member access '.%s' on %s value", e.name, kindName(obj))
	}
	if v, ok := m.Get(e.name); ok {
		return v, nil
	}
	return None{}, nil
}

type indexExpr struct {
	object Expression
	index  Expression
}

func (e *indexExpr) Eval(ctx context.Context, env Env) (Data, error) {
	obj, err := e.object.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	idx, err := e.index.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	switch c := obj.(type) {
	case *Array:
		i, ok := idx.(Integer)
		if !ok {
			return nil, fmt.Errorf("array index must be an integer, got %s", kindName(idx))
		}
		return c.At(int(i))
	case *Map:
		k, ok := idx.(String)
		if !ok {
			return nil, fmt.Errorf("map index must be a string, got %s", kindName(idx))
		}
		if v, ok := c.Get(string(k)); ok {
			return v, nil
		}
		return None{}, nil
	}
	return nil, fmt.Errorf("index on %s value", kindName(obj))
}

type methodExpr struct {
	name string
	args []Expression
}

func (e *methodExpr) Eval(ctx context.Context, env Env) (Data, error) {
	args := make([]Data, len(e.args))
	for i, a := range e.args {
		v, err := a.Eval(ctx, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return env.Call(ctx, e.name, args)
}

type arrayExpr struct {
	items []Expression
}

func (e *arrayExpr) Eval(ctx context.Context, env Env) (Data, error) {
	items := make([]Data, len(e.items))
	for i, it := range e.items {
		v, err := it.Eval(ctx, env)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return NewArray(items...), nil
}

type mapExpr struct {
	keys   []Expression
	values []Expression
}

func (e *mapExpr) Eval(ctx context.Context, env Env) (Data, error) {
	m := NewMap()
	for i := range e.keys {
		k, err := e.keys[i].Eval(ctx, env)
		if err != nil {
			return nil, err
		}
		v, err := e.values[i].Eval(ctx, env)
		if err != nil {
			return nil, err
		}
		m.Set(k.String(), v)
	}
	return m, nil
}

type assignExpr struct {
	target          Expression
	value           Expression
	onlyIfUndefined bool
}

func (e *assignExpr) Eval(ctx context.Context, env Env) (Data, error) {
	if e.onlyIfUndefined {
		if v, ok := currentValue(ctx, e.target, env); ok {
			if _, isNone := v.(None); !isNone {
				return v, nil
			}
		}
	}
	v, err := e.value.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := AssignTo(ctx, e.target, v, env, e.onlyIfUndefined); err != nil {
		return nil, err
	}
	return v, nil
}

// currentValue reads the target location without failing on undefined names.
func currentValue(ctx context.Context, target Expression, env Env) (Data, bool) {
	if v, ok := target.(*variableExpr); ok {
		return env.Lookup(v.name)
	}
	d, err := target.Eval(ctx, env)
	if err != nil {
		return nil, false
	}
	return d, true
}

// AssignTo writes value to the location described by target, which must be
// a variable, member or index expression. defineIfMissing permits creating
// a variable that does not exist yet.
func AssignTo(ctx context.Context, target Expression, value Data, env Env, defineIfMissing bool) error {
	switch t := target.(type) {
	case *variableExpr:
		return env.SetVariable(t.name, value, defineIfMissing)
	case *memberExpr:
		obj, err := t.object.Eval(ctx, env)
		if err != nil {
			return err
		}
		m, ok := obj.(*Map)
		if !ok {
			return fmt.Errorf("cannot assign member '%s' on %s value", t.name, kindName(obj))
		}
		m.Set(t.name, value)
		return nil
	case *indexExpr:
		obj, err := t.object.Eval(ctx, env)
		if err != nil {
			return err
		}
		idx, err := t.index.Eval(ctx, env)
		if err != nil {
			return err
		}
		switch c := obj.(type) {
		case *Array:
			i, ok := idx.(Integer)
			if !ok {
				return fmt.Errorf("array index must be an integer, got %s", kindName(idx))
			}
			return c.SetAt(int(i), value)
		case *Map:
			k, ok := idx.(String)
			if !ok {
				return fmt.Errorf("map index must be a string, got %s", kindName(idx))
			}
			c.Set(string(k), value)
			return nil
		}
		return fmt.Errorf("cannot assign by index on %s value", kindName(obj))
	}
	return fmt.Errorf("left side of assignment is not a location")
}

type binaryExpr struct {
	op    Operator
	left  Expression
	right Expression
}

func (e *binaryExpr) Eval(ctx context.Context, env Env) (Data, error) {
	l, err := e.left.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	r, err := e.right.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	result := ApplyBinary(e.op, l, r)
	if ev, ok := result.(Error); ok {
		return nil, fmt.Errorf("%s", string(ev))
	}
	return result, nil
}

type notExpr struct {
	operand Expression
}

func (e *notExpr) Eval(ctx context.Context, env Env) (Data, error) {
	v, err := e.operand.Eval(ctx, env)
	if err != nil {
		return nil, err
	}
	result := Not(v)
	if ev, ok := result.(Error); ok {
		return nil, fmt.Errorf("%s", string(ev))
	}
	return result, nil
}

type sequenceExpr struct {
	items []Expression
}

func (e *sequenceExpr) Eval(ctx context.Context, env Env) (Data, error) {
	var last Data = None{}
	for _, it := range e.items {
		v, err := it.Eval(ctx, env)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// Constant wraps a literal value as an expression. Hosts use it to seed
// argument lists for registered functions.
func Constant(v Data) Expression {
	return &constantExpr{value: v}
}
