package expr

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv is a plain variable map plus a couple of functions, standing in
// for the expression data model.
type testEnv struct {
	vars  map[string]Data
	calls []string
}

func newTestEnv() *testEnv {
	return &testEnv{vars: map[string]Data{}}
}

func (e *testEnv) Lookup(name string) (Data, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func (e *testEnv) SetVariable(name string, value Data, defineIfMissing bool) error {
	if _, ok := e.vars[name]; !ok && !defineIfMissing {
		return fmt.Errorf("'%s' is not defined", name)
	}
	e.vars[name] = value
	return nil
}

func (e *testEnv) Call(ctx context.Context, name string, args []Data) (Data, error) {
	e.calls = append(e.calls, name)
	switch name {
	case "length":
		if len(args) == 1 {
			if s, ok := args[0].(String); ok {
				return Integer(len(s)), nil
			}
			if a, ok := args[0].(*Array); ok {
				return Integer(a.Len()), nil
			}
		}
		return nil, fmt.Errorf("wrong arguments for 'length'")
	case "abs":
		if len(args) == 1 {
			if i, ok := args[0].(Integer); ok && i < 0 {
				return -i, nil
			}
			return args[0], nil
		}
	}
	return nil, fmt.Errorf("unknown function '%s'", name)
}

func eval(t *testing.T, env *testEnv, source string) Data {
	t.Helper()
	e, err := Parse(source)
	require.NoError(t, err, "parse %q", source)
	v, err := e.Eval(context.Background(), env)
	require.NoError(t, err, "eval %q", source)
	return v
}

func TestLiterals(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, Integer(42), eval(t, env, "42"))
	assert.Equal(t, Double(2.5), eval(t, env, "2.5"))
	assert.Equal(t, Double(1e3), eval(t, env, "1e3"))
	assert.Equal(t, String("hi"), eval(t, env, "'hi'"))
	assert.Equal(t, String("hi"), eval(t, env, `"hi"`))
	assert.Equal(t, Boolean(true), eval(t, env, "true"))
	assert.Equal(t, Null{}, eval(t, env, "null"))
	assert.Equal(t, Integer(-7), eval(t, env, "-7"))
}

func TestPrecedence(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, Integer(7), eval(t, env, "1+2*3"))
	assert.Equal(t, Integer(9), eval(t, env, "(1+2)*3"))
	assert.Equal(t, Boolean(true), eval(t, env, "1+1 == 2"))
	assert.Equal(t, Boolean(true), eval(t, env, "2 < 3 == true"))
	assert.Equal(t, Boolean(true), eval(t, env, "!false"))
	assert.Equal(t, Boolean(true), eval(t, env, "(1 < 2) & (3 > 2)"))
}

func TestBooleanOperators(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, Boolean(false), eval(t, env, "true & false"))
	assert.Equal(t, Boolean(true), eval(t, env, "false | true"))
}

func TestVariablesAndAssignment(t *testing.T) {
	env := newTestEnv()
	env.vars["x"] = Integer(5)

	assert.Equal(t, Integer(6), eval(t, env, "x + 1"))
	assert.Equal(t, Integer(9), eval(t, env, "x = 9"))
	assert.Equal(t, Integer(9), env.vars["x"])

	// '=' fails on undefined names, '?=' defines.
	e, err := Parse("y = 1")
	require.NoError(t, err)
	_, err = e.Eval(context.Background(), env)
	assert.Error(t, err)

	assert.Equal(t, Integer(1), eval(t, env, "y ?= 1"))
	assert.Equal(t, Integer(1), eval(t, env, "y ?= 2"), "'?=' keeps the first definition")
	assert.Equal(t, Integer(1), env.vars["y"])
}

func TestUndefinedVariable(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, None{}, eval(t, env, "missing"), "undefined reads as None")

	e, err := Parse("missing + 1")
	require.NoError(t, err)
	_, err = e.Eval(context.Background(), env)
	require.Error(t, err, "operating on an absent value fails")
}

func TestMemberAndIndex(t *testing.T) {
	env := newTestEnv()
	m := NewMap()
	m.Set("name", String("go"))
	inner := NewArray(Integer(10), Integer(20))
	m.Set("items", inner)
	env.vars["obj"] = m
	env.vars["arr"] = inner

	assert.Equal(t, String("go"), eval(t, env, "obj.name"))
	assert.Equal(t, Integer(20), eval(t, env, "obj.items[1]"))
	assert.Equal(t, Integer(10), eval(t, env, "arr[0]"))
	assert.Equal(t, String("go"), eval(t, env, "obj['name']"))
	assert.Equal(t, None{}, eval(t, env, "obj.unknown"))

	eval(t, env, "obj.name = 'rust'")
	v, _ := m.Get("name")
	assert.Equal(t, String("rust"), v)

	eval(t, env, "arr[0] = 11")
	first, err := inner.At(0)
	require.NoError(t, err)
	assert.Equal(t, Integer(11), first)
}

func TestCalls(t *testing.T) {
	env := newTestEnv()
	env.vars["s"] = String("four")
	assert.Equal(t, Integer(4), eval(t, env, "length(s)"))
	assert.Equal(t, Integer(4), eval(t, env, "s.length()"), "method call passes the receiver first")
	assert.Equal(t, Integer(3), eval(t, env, "abs(-3)"))
}

func TestArrayAndMapLiterals(t *testing.T) {
	env := newTestEnv()
	v := eval(t, env, "[1, 2+3, 'x']")
	arr := v.(*Array)
	require.Equal(t, 3, arr.Len())
	second, _ := arr.At(1)
	assert.Equal(t, Integer(5), second)

	m := eval(t, env, "{a: 1, 'b': 2}").(*Map)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	b, _ := m.Get("b")
	assert.Equal(t, Integer(2), b)

	assert.Equal(t, 0, eval(t, env, "[]").(*Array).Len())
	assert.Equal(t, 0, eval(t, env, "{}").(*Map).Len())
}

func TestSequence(t *testing.T) {
	env := newTestEnv()
	assert.Equal(t, Integer(3), eval(t, env, "a ?= 1; b ?= 2; a + b"))
	assert.Equal(t, Integer(1), env.vars["a"])
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"1 +", "(1", "[1,", "{a 1}", "1 = 2", "'open", "@", "f(1,"} {
		e, err := Parse(src)
		if err != nil {
			continue
		}
		_, err = e.Eval(context.Background(), newTestEnv())
		assert.Error(t, err, "source %q should fail", src)
	}
}

func TestCacheCompilesOnce(t *testing.T) {
	c := NewCache()
	src := NewSource("1 + 2")
	e1, err := c.Compile(src)
	require.NoError(t, err)
	e2, err := c.Compile(src)
	require.NoError(t, err)
	assert.Same(t, e1, e2, "same source id returns the cached AST")

	other := NewSource("1 + 2")
	e3, err := c.Compile(other)
	require.NoError(t, err)
	assert.NotSame(t, e1, e3)
	assert.Equal(t, 2, c.Len())
}
