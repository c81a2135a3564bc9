package scxml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflare-ai/go-scxml/expr"
)

func newTestDatamodel(t *testing.T) *ExpressionDatamodel {
	t.Helper()
	g := NewGlobalData()
	g.SessionID = 7
	g.Name = "test-machine"
	g.Processors = []EventIOProcessor{NewScxmlEventProcessor()}
	dm := NewExpressionDatamodel(g)
	dm.InitializeGlobals(context.Background(), NewFsm())
	return dm
}

func TestDataStoreSemantics(t *testing.T) {
	ds := NewDataStore()
	require.NoError(t, ds.Set("x", expr.Integer(1), true))
	require.NoError(t, ds.Set("x", expr.Integer(2), false))

	err := ds.Set("unknown", expr.Integer(1), false)
	assert.Error(t, err, "assignment to an undefined key fails")

	ds.SetSystem("_sessionid", expr.Integer(9))
	err = ds.Set("_sessionid", expr.Integer(1), true)
	assert.Error(t, err, "assignment to a read-only entry fails")
	assert.True(t, ds.IsReadOnly("_sessionid"))
}

func TestInitializeGlobals(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()

	sid, err := dm.GetByLocation(ctx, "_sessionid")
	require.NoError(t, err)
	assert.Equal(t, expr.Integer(7), sid)

	name, err := dm.GetByLocation(ctx, "_name")
	require.NoError(t, err)
	assert.Equal(t, expr.String("test-machine"), name)

	loc, err := dm.GetByLocation(ctx, "_ioprocessors.scxml.location")
	require.NoError(t, err)
	assert.Equal(t, expr.String("#_scxml_7"), loc)
}

func TestSetEvent(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()

	ev := &Event{
		Name:   "order.placed",
		Type:   EventTypeExternal,
		SendID: "s1",
		Params: []ParamPair{{Name: "amount", Value: expr.Integer(42)}},
	}
	dm.SetEvent(ev)

	name, err := dm.GetByLocation(ctx, "_event.name")
	require.NoError(t, err)
	assert.Equal(t, expr.String("order.placed"), name)

	amount, err := dm.GetByLocation(ctx, "_event.data.amount")
	require.NoError(t, err)
	assert.Equal(t, expr.Integer(42), amount)

	// _event is read-only.
	err = dm.g.DataStore.Set(EventSystemVariable, expr.Null{}, true)
	assert.Error(t, err)
}

func TestAssignAndConditions(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()
	require.NoError(t, dm.g.DataStore.Define("x", expr.Integer(1)))

	require.NoError(t, dm.Assign(ctx, expr.NewSource("x"), expr.Integer(5)))
	ok, err := dm.ExecuteCondition(ctx, expr.NewSource("x == 5"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown location raises error.execution and fails.
	err = dm.Assign(ctx, expr.NewSource("nope"), expr.Integer(1))
	assert.Error(t, err)
	assert.Equal(t, EventErrorExecution, dm.g.InternalQueue.Dequeue().Name)

	// ToBoolean coercion.
	for source, want := range map[string]bool{
		"0":     false,
		"''":    false,
		"'x'":   true,
		"null":  false,
		"1.5":   true,
		"[1,2]": true,
		"{}":    true,
	} {
		got, err := dm.ExecuteCondition(ctx, expr.NewSource(source))
		require.NoError(t, err, source)
		assert.Equal(t, want, got, source)
	}
}

func TestAllowUndefinedOption(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()

	err := dm.Assign(ctx, expr.NewSource("fresh"), expr.Integer(1))
	assert.Error(t, err)

	dm.g.Options[DatamodelOptionPrefix+AllowUndefinedOption] = "true"
	require.NoError(t, dm.Assign(ctx, expr.NewSource("fresh"), expr.Integer(1)))
	v, err := dm.GetByLocation(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, expr.Integer(1), v)
}

func TestExecuteRejectsContainerResults(t *testing.T) {
	dm := newTestDatamodel(t)
	_, err := dm.Execute(context.Background(), expr.NewSource("[1,2]"))
	assert.Error(t, err, "containers are illegal for the script slot")
	_, err = dm.Execute(context.Background(), expr.NewSource("1+2"))
	assert.NoError(t, err)
}

func TestExecuteForEach(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()
	require.NoError(t, dm.g.DataStore.Define("items", expr.NewArray(
		expr.String("a"), expr.String("b"), expr.String("c"))))

	var seen []string
	var indexes []int64
	err := dm.ExecuteForEach(ctx, expr.NewSource("items"), "it", "i", func() bool {
		v, _ := dm.g.DataStore.Get("it")
		seen = append(seen, string(v.(expr.String)))
		idx, _ := dm.g.DataStore.Get("i")
		indexes = append(indexes, int64(idx.(expr.Integer)))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, []int64{0, 1, 2}, indexes)

	// Early abort.
	count := 0
	err = dm.ExecuteForEach(ctx, expr.NewSource("items"), "it", "", func() bool {
		count++
		return count < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Non-iterable source fails.
	err = dm.ExecuteForEach(ctx, expr.NewSource("42"), "it", "", func() bool { return true })
	assert.Error(t, err)
}

func TestBuiltins(t *testing.T) {
	dm := newTestDatamodel(t)
	ctx := context.Background()
	require.NoError(t, dm.g.DataStore.Define("s", expr.String("hello")))
	require.NoError(t, dm.g.DataStore.Define("arr", expr.NewArray(expr.Integer(5), expr.Integer(8))))

	cases := map[string]expr.Data{
		"length(s)":        expr.Integer(5),
		"length(arr)":      expr.Integer(2),
		"indexOf(s, 'll')": expr.Integer(2),
		"indexOf(arr, 8)":  expr.Integer(1),
		"indexOf(arr, 9)":  expr.Integer(-1),
		"isDefined(s)":     expr.Boolean(true),
		"isDefined(nope)":  expr.Boolean(false),
		"abs(-4)":          expr.Integer(4),
		"abs(-2.5)":        expr.Double(2.5),
		"toString(12)":     expr.String("12"),
	}
	for source, want := range cases {
		got, err := dm.Execute(ctx, expr.NewSource(source))
		require.NoError(t, err, source)
		assert.Equal(t, want, got, source)
	}
}

func TestInBuiltin(t *testing.T) {
	g := NewGlobalData()
	dm := NewExpressionDatamodel(g)
	fsm := NewFsm()
	root := fsm.AddState(State{Name: "(scxml)"})
	fsm.Root = root
	active := fsm.AddState(State{Name: "working", Parent: root})
	fsm.State(root).Children = []StateID{active}
	dm.InitializeGlobals(context.Background(), fsm)

	g.Configuration.Add(active)
	ok, err := dm.ExecuteCondition(context.Background(), expr.NewSource("In('working')"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dm.ExecuteCondition(context.Background(), expr.NewSource("In('idle')"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNullDatamodel(t *testing.T) {
	g := NewGlobalData()
	dm := NewNullDatamodel(g)
	fsm := NewFsm()
	root := fsm.AddState(State{Name: "(scxml)"})
	fsm.Root = root
	st := fsm.AddState(State{Name: "on", Parent: root})
	fsm.State(root).Children = []StateID{st}
	dm.InitializeGlobals(context.Background(), fsm)
	g.Configuration.Add(st)

	ok, err := dm.ExecuteCondition(context.Background(), expr.NewSource("In('on')"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = dm.ExecuteCondition(context.Background(), expr.NewSource("x == 1"))
	assert.Error(t, err, "only In() is supported")

	err = dm.Assign(context.Background(), expr.NewSource("x"), expr.Integer(1))
	assert.Error(t, err)
	assert.Equal(t, EventErrorExecution, g.InternalQueue.Dequeue().Name)
}

func TestCreateDatamodel(t *testing.T) {
	g := NewGlobalData()
	dm, err := CreateDatamodel("", g)
	require.NoError(t, err)
	assert.Equal(t, ExpressionDatamodelName, dm.Name())

	dm, err = CreateDatamodel("ECMAScript", g)
	require.NoError(t, err)
	assert.Equal(t, ExpressionDatamodelName, dm.Name())

	dm, err = CreateDatamodel("null", g)
	require.NoError(t, err)
	assert.Equal(t, NullDatamodelName, dm.Name())

	_, err = CreateDatamodel("xpath", g)
	assert.Error(t, err)
}
