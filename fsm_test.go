package scxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildNestedFsm constructs:
//
//	(scxml) root
//	  compound A
//	    atomic A1
//	    atomic A2
//	  parallel P
//	    compound Pa
//	      atomic Pa1
//	    compound Pb
//	      atomic Pb1
func buildNestedFsm(t *testing.T) *Fsm {
	t.Helper()
	f := NewFsm()
	root := f.AddState(State{Name: "(scxml)"})
	f.Root = root

	a := f.AddState(State{Name: "A", Parent: root})
	a1 := f.AddState(State{Name: "A1", Parent: a})
	a2 := f.AddState(State{Name: "A2", Parent: a})
	f.State(a).Children = []StateID{a1, a2}

	p := f.AddState(State{Name: "P", Parent: root, IsParallel: true})
	pa := f.AddState(State{Name: "Pa", Parent: p})
	pa1 := f.AddState(State{Name: "Pa1", Parent: pa})
	pb := f.AddState(State{Name: "Pb", Parent: p})
	pb1 := f.AddState(State{Name: "Pb1", Parent: pb})
	f.State(p).Children = []StateID{pa, pb}
	f.State(pa).Children = []StateID{pa1}
	f.State(pb).Children = []StateID{pb1}
	f.State(root).Children = []StateID{a, p}
	return f
}

func TestEventMatch(t *testing.T) {
	assert.True(t, EventMatch([]string{"a.b"}, false, "a.b"))
	assert.True(t, EventMatch([]string{"a.b"}, false, "a.b.c"))
	assert.False(t, EventMatch([]string{"a.b"}, false, "a.bc"))
	assert.False(t, EventMatch([]string{"a"}, false, "ab"))
	assert.True(t, EventMatch([]string{"a"}, false, "a.b"))
	assert.True(t, EventMatch(nil, true, "anything"))
	assert.True(t, EventMatch([]string{"x", "y"}, false, "y.z"))
	assert.False(t, EventMatch(nil, false, "a"))
}

func TestNormalizeEventDescriptor(t *testing.T) {
	assert.Equal(t, "a.b", NormalizeEventDescriptor("a.b.*"))
	assert.Equal(t, "a.b", NormalizeEventDescriptor("a.b."))
	assert.Equal(t, "a", NormalizeEventDescriptor("a"))
	assert.Equal(t, "*", NormalizeEventDescriptor("*"))
	assert.Equal(t, "error", NormalizeEventDescriptor("error.*"))
}

func TestIsDescendantAndAncestors(t *testing.T) {
	f := buildNestedFsm(t)
	a, _ := f.StateByName("A")
	a1, _ := f.StateByName("A1")
	p, _ := f.StateByName("P")
	pa1, _ := f.StateByName("Pa1")

	assert.True(t, f.IsDescendant(a1, a))
	assert.True(t, f.IsDescendant(a1, f.Root))
	assert.False(t, f.IsDescendant(a, a1))
	assert.False(t, f.IsDescendant(a1, p))

	ancestors := f.ProperAncestors(pa1, 0)
	require.Len(t, ancestors, 3)
	pa, _ := f.StateByName("Pa")
	assert.Equal(t, []StateID{pa, p, f.Root}, ancestors)

	upTo := f.ProperAncestors(pa1, p)
	assert.Equal(t, []StateID{pa}, upTo)
}

func TestFindLCCA(t *testing.T) {
	f := buildNestedFsm(t)
	a1, _ := f.StateByName("A1")
	a2, _ := f.StateByName("A2")
	a, _ := f.StateByName("A")
	pa1, _ := f.StateByName("Pa1")
	pa, _ := f.StateByName("Pa")
	pb1, _ := f.StateByName("Pb1")

	assert.Equal(t, a, f.FindLCCA([]StateID{a1, a2}))
	assert.Equal(t, f.Root, f.FindLCCA([]StateID{a1, pa1}))
	// The parallel state is not compound: siblings in different regions
	// meet at the root.
	assert.Equal(t, f.Root, f.FindLCCA([]StateID{pa1, pb1}))
	assert.Equal(t, pa, f.FindLCCA([]StateID{pa1}))
}

func TestStatePredicates(t *testing.T) {
	f := buildNestedFsm(t)
	a, _ := f.StateByName("A")
	a1, _ := f.StateByName("A1")
	p, _ := f.StateByName("P")

	assert.True(t, f.IsCompound(a))
	assert.False(t, f.IsCompound(p), "parallel is not compound")
	assert.True(t, f.IsAtomic(a1))
	assert.False(t, f.IsAtomic(a))
	assert.True(t, f.IsScxmlRoot(f.Root))
}

func TestDocumentOrderInvariant(t *testing.T) {
	f := buildNestedFsm(t)
	// Ids form a dense 1-based range in pre-order.
	for i, st := range f.States {
		assert.Equal(t, StateID(i+1), st.ID)
	}
	ids := []StateID{5, 2, 9}
	SortByDocumentOrder(ids)
	assert.Equal(t, []StateID{2, 5, 9}, ids)
	SortByReverseDocumentOrder(ids)
	assert.Equal(t, []StateID{9, 5, 2}, ids)
}
