package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualScalars(t *testing.T) {
	assert.True(t, Equal(Integer(1), Integer(1)))
	assert.True(t, Equal(Integer(1), Double(1)))
	assert.True(t, Equal(Double(2.5), Double(2.5)))
	assert.True(t, Equal(String("a"), String("a")))
	assert.True(t, Equal(Null{}, Null{}))
	assert.True(t, Equal(None{}, None{}))
	assert.False(t, Equal(Integer(1), String("1")))
	assert.False(t, Equal(Boolean(true), Integer(1)))
}

func TestEqualContainers(t *testing.T) {
	a := NewArray(Integer(1), String("x"))
	b := NewArray(Integer(1), String("x"))
	assert.True(t, Equal(a, b))
	assert.True(t, Equal(a, a), "identity fast path")

	b.Append(Integer(2))
	assert.False(t, Equal(a, b))

	m1 := NewMap()
	m1.Set("x", Integer(1))
	m1.Set("y", Integer(2))
	m2 := NewMap()
	m2.Set("y", Integer(2))
	m2.Set("x", Integer(1))
	assert.True(t, Equal(m1, m2), "map equality ignores insertion order")
}

func TestToBoolean(t *testing.T) {
	assert.False(t, ToBoolean(Integer(0)))
	assert.False(t, ToBoolean(Double(math.NaN())))
	assert.False(t, ToBoolean(String("")))
	assert.False(t, ToBoolean(Null{}))
	assert.False(t, ToBoolean(None{}))
	assert.True(t, ToBoolean(Integer(-1)))
	assert.True(t, ToBoolean(String("x")))
	assert.True(t, ToBoolean(NewArray()))
	assert.True(t, ToBoolean(NewMap()))
}

func TestSaturatingArithmetic(t *testing.T) {
	assert.Equal(t, Integer(math.MaxInt64), Add(Integer(math.MaxInt64), Integer(1)))
	assert.Equal(t, Integer(math.MinInt64), Subtract(Integer(math.MinInt64), Integer(1)))
	assert.Equal(t, Integer(math.MaxInt64), Multiply(Integer(math.MaxInt64), Integer(2)))
	assert.Equal(t, Integer(math.MinInt64), Multiply(Integer(math.MaxInt64), Integer(-2)))
}

func TestAddPromotesAndConcatenates(t *testing.T) {
	assert.Equal(t, Integer(3), Add(Integer(1), Integer(2)))
	assert.Equal(t, Double(3.5), Add(Integer(1), Double(2.5)))
	assert.Equal(t, String("ab"), Add(String("a"), String("b")))
	assert.Equal(t, String("v=1"), Add(String("v="), Integer(1)))

	arr := Add(NewArray(Integer(1)), Integer(2))
	require.IsType(t, (*Array)(nil), arr)
	assert.Equal(t, 2, arr.(*Array).Len())

	both := Add(NewArray(Integer(1)), NewArray(Integer(2), Integer(3)))
	assert.Equal(t, 3, both.(*Array).Len())

	l := NewMap()
	l.Set("a", Integer(1))
	l.Set("b", Integer(1))
	r := NewMap()
	r.Set("b", Integer(2))
	merged := Add(l, r).(*Map)
	v, _ := merged.Get("b")
	assert.Equal(t, Integer(2), v, "right side overwrites")
}

func TestDivideAlwaysDouble(t *testing.T) {
	assert.Equal(t, Double(2), Divide(Integer(4), Integer(2)))
	_, isErr := Divide(Integer(1), Integer(0)).(Error)
	assert.True(t, isErr, "division by zero yields Error")
	_, isErr = Divide(String("a"), Integer(1)).(Error)
	assert.True(t, isErr)
}

func TestComparisons(t *testing.T) {
	assert.Equal(t, Boolean(true), Less(Integer(1), Double(1.5)))
	assert.Equal(t, Boolean(true), Less(String("a"), String("b")))
	assert.Equal(t, Boolean(false), Less(NewArray(), Integer(1)), "incomparable yields false")
	_, isErr := Greater(NewArray(), Integer(1)).(Error)
	assert.True(t, isErr, "'>' on incomparable yields Error")
}

func TestStrictBooleans(t *testing.T) {
	assert.Equal(t, Boolean(true), And(Boolean(true), Boolean(true)))
	assert.Equal(t, Boolean(true), Or(Boolean(false), Boolean(true)))
	_, isErr := And(Boolean(true), Integer(1)).(Error)
	assert.True(t, isErr)
	_, isErr = Not(Integer(1)).(Error)
	assert.True(t, isErr)
}

func TestDeepCopy(t *testing.T) {
	inner := NewArray(Integer(1))
	m := NewMap()
	m.Set("list", inner)
	cp := DeepCopy(m).(*Map)

	inner.Append(Integer(2))
	got, ok := cp.Get("list")
	require.True(t, ok)
	assert.Equal(t, 1, got.(*Array).Len(), "copy does not share the inner array")
}

func TestArraySetAtExtends(t *testing.T) {
	a := NewArray(Integer(1))
	require.NoError(t, a.SetAt(1, Integer(2)))
	assert.Equal(t, 2, a.Len())
	assert.Error(t, a.SetAt(5, Integer(9)))
}
