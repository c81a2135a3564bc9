package scxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderedSetKeepsInsertionOrder(t *testing.T) {
	s := NewOrderedSet[int]()
	s.Add(3)
	s.Add(1)
	s.Add(2)
	s.Add(1) // duplicate, ignored
	assert.Equal(t, []int{3, 1, 2}, s.ToList())
	assert.Equal(t, 3, s.Size())
}

func TestOrderedSetDelete(t *testing.T) {
	s := NewOrderedSet(1, 2, 3)
	s.Delete(2)
	assert.Equal(t, []int{1, 3}, s.ToList())
	s.Delete(99) // absent, no-op
	assert.Equal(t, 2, s.Size())
	assert.False(t, s.IsMember(2))
	assert.True(t, s.IsMember(3))
}

func TestOrderedSetUnionKeepsFirstOrdering(t *testing.T) {
	a := NewOrderedSet(1, 2)
	b := NewOrderedSet(2, 3, 4)
	a.Union(b)
	assert.Equal(t, []int{1, 2, 3, 4}, a.ToList())
}

func TestOrderedSetPredicates(t *testing.T) {
	s := NewOrderedSet(1, 2, 3)
	assert.True(t, s.Some(func(v int) bool { return v == 2 }))
	assert.False(t, s.Some(func(v int) bool { return v == 9 }))
	assert.True(t, s.Every(func(v int) bool { return v > 0 }))
	assert.False(t, s.Every(func(v int) bool { return v > 1 }))

	empty := NewOrderedSet[int]()
	assert.False(t, empty.Some(func(int) bool { return true }))
	assert.True(t, empty.Every(func(int) bool { return false }))
	assert.True(t, empty.IsEmpty())
}

func TestOrderedSetIntersection(t *testing.T) {
	a := NewOrderedSet(1, 2)
	b := NewOrderedSet(2, 9)
	c := NewOrderedSet(7, 8)
	assert.True(t, a.HasIntersection(b))
	assert.False(t, a.HasIntersection(c))
}

func TestOrderedSetClearAndClone(t *testing.T) {
	s := NewOrderedSet(1, 2)
	clone := s.Clone()
	s.Clear()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, []int{1, 2}, clone.ToList())
}
