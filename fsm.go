package scxml

import (
	"sort"
	"strings"

	"github.com/agentflare-ai/go-scxml/expr"
)

// StateID indexes a state in the document arena. Ids form a dense 1-based
// range whose order matches the pre-order traversal of the declaration; 0
// is "no state".
type StateID int

// TransitionID indexes a transition in the document arena, 1-based; 0 is
// "no transition".
type TransitionID int

// ContentID indexes an executable content block, 1-based; 0 is "no
// content".
type ContentID int

// HistoryType distinguishes history pseudo-states.
type HistoryType uint8

const (
	HistoryNone HistoryType = iota
	HistoryShallow
	HistoryDeep
)

// BindingType is the document's data binding mode.
type BindingType uint8

const (
	BindingEarly BindingType = iota
	BindingLate
)

// TransitionType distinguishes internal from external transitions.
type TransitionType uint8

const (
	TransitionExternal TransitionType = iota
	TransitionInternal
)

// DataDecl is one <data> declaration of a state.
type DataDecl struct {
	ID      string
	Expr    expr.Source
	Src     string
	Content string
}

// ParamDecl is a <param> of send, invoke or donedata.
type ParamDecl struct {
	Name     string
	Expr     expr.Source
	Location string
}

// CommonContent is a <content> payload: literal text or an expression.
type CommonContent struct {
	Expr    expr.Source
	Content string
}

// DoneData is the <donedata> of a final state.
type DoneData struct {
	Content *CommonContent
	Params  []ParamDecl
}

// Invoke describes an <invoke> of a state.
type Invoke struct {
	ID              string
	IDLocation      string
	TypeName        string
	TypeExpr        expr.Source
	Src             string
	SrcExpr         expr.Source
	ContentExpr     expr.Source
	Content         string
	ParentStateName string
	Autoforward     bool
	Namelist        []string
	Params          []ParamDecl
	Finalize        ContentID
}

// State is one node of the immutable document graph. Cross references are
// by id into the arenas of the owning Fsm. History pseudo-states live in
// the arena but outside their parent's Children list; they are reachable
// via HistoryStates.
type State struct {
	ID                StateID
	Name              string
	Parent            StateID
	Children          []StateID
	IsParallel        bool
	IsFinal           bool
	History           HistoryType
	InitialTransition TransitionID
	OnEntry           []ContentID
	OnExit            []ContentID
	Transitions       []TransitionID
	Invokes           []Invoke
	HistoryStates     []StateID
	Data              []DataDecl
	DoneData          *DoneData
}

// Transition is one edge of the document graph. The Events descriptors are
// normalised at parse: trailing "." and ".*" are stripped.
type Transition struct {
	ID       TransitionID
	DocOrder int
	Source   StateID
	Targets  []StateID
	Events   []string
	Wildcard bool
	Cond     expr.Source
	TType    TransitionType
	Content  ContentID
}

// Fsm is the parsed, immutable state machine document. All mutation stops
// at the end of parsing; sessions share it by read-only reference.
type Fsm struct {
	Name          string
	Version       string
	DatamodelName string
	Binding       BindingType
	Root          StateID
	InitialTransition TransitionID
	Script        ContentID

	States      []State
	Transitions []Transition
	Content     [][]Action

	statesByName map[string]StateID
}

// NewFsm creates an empty document shell; parsers fill the arenas.
func NewFsm() *Fsm {
	return &Fsm{Version: "1.0", statesByName: map[string]StateID{}}
}

// AddState appends a state to the arena and returns its id.
func (f *Fsm) AddState(s State) StateID {
	s.ID = StateID(len(f.States) + 1)
	f.States = append(f.States, s)
	if s.Name != "" {
		f.statesByName[s.Name] = s.ID
	}
	return s.ID
}

// AddTransition appends a transition to the arena and returns its id.
func (f *Fsm) AddTransition(t Transition) TransitionID {
	t.ID = TransitionID(len(f.Transitions) + 1)
	t.DocOrder = int(t.ID)
	f.Transitions = append(f.Transitions, t)
	return t.ID
}

// AddContent appends an executable content block and returns its id.
func (f *Fsm) AddContent(actions []Action) ContentID {
	f.Content = append(f.Content, actions)
	return ContentID(len(f.Content))
}

// State returns the state with the given id. Panics on id 0, which marks
// "no state" and must be checked by the caller.
func (f *Fsm) State(id StateID) *State {
	return &f.States[int(id)-1]
}

// Transition returns the transition with the given id.
func (f *Fsm) Transition(id TransitionID) *Transition {
	return &f.Transitions[int(id)-1]
}

// ContentBlock returns the action block with the given id, or nil for 0.
func (f *Fsm) ContentBlock(id ContentID) []Action {
	if id == 0 {
		return nil
	}
	return f.Content[int(id)-1]
}

// StateByName resolves a state id by its document id attribute.
func (f *Fsm) StateByName(name string) (StateID, bool) {
	id, ok := f.statesByName[name]
	return id, ok
}

// RebuildNameIndex reconstructs the name lookup table, used after loading
// a document from its binary form.
func (f *Fsm) RebuildNameIndex() {
	f.statesByName = make(map[string]StateID, len(f.States))
	for i := range f.States {
		if f.States[i].Name != "" {
			f.statesByName[f.States[i].Name] = f.States[i].ID
		}
	}
}

// IsAtomic reports whether the state has no children and is not a history
// pseudo-state.
func (f *Fsm) IsAtomic(id StateID) bool {
	s := f.State(id)
	return len(s.Children) == 0 && s.History == HistoryNone
}

// IsCompound reports whether the state has children and is not parallel.
func (f *Fsm) IsCompound(id StateID) bool {
	s := f.State(id)
	return len(s.Children) > 0 && !s.IsParallel
}

// IsHistory reports whether the state is a history pseudo-state.
func (f *Fsm) IsHistory(id StateID) bool {
	return f.State(id).History != HistoryNone
}

// IsScxmlRoot reports whether the state is the document root.
func (f *Fsm) IsScxmlRoot(id StateID) bool {
	return id == f.Root
}

// IsDescendant reports whether child is a proper descendant of ancestor.
func (f *Fsm) IsDescendant(child, ancestor StateID) bool {
	if child == 0 || ancestor == 0 {
		return false
	}
	p := f.State(child).Parent
	for p != 0 {
		if p == ancestor {
			return true
		}
		p = f.State(p).Parent
	}
	return false
}

// ProperAncestors returns the ancestors of id up to but excluding upTo,
// innermost first. upTo 0 walks to the root.
func (f *Fsm) ProperAncestors(id, upTo StateID) []StateID {
	var out []StateID
	p := f.State(id).Parent
	for p != 0 && p != upTo {
		out = append(out, p)
		p = f.State(p).Parent
	}
	return out
}

// ChildStates returns the non-history children of id.
func (f *Fsm) ChildStates(id StateID) []StateID {
	return f.State(id).Children
}

// FindLCCA returns the least common compound ancestor: the lowest state
// that is compound or the scxml root and an ancestor of every given state.
func (f *Fsm) FindLCCA(states []StateID) StateID {
	if len(states) == 0 {
		return 0
	}
	for _, anc := range f.ProperAncestors(states[0], 0) {
		if !f.IsCompound(anc) && !f.IsScxmlRoot(anc) {
			continue
		}
		all := true
		for _, s := range states[1:] {
			if !f.IsDescendant(s, anc) {
				all = false
				break
			}
		}
		if all {
			return anc
		}
	}
	return f.Root
}

// SortByDocumentOrder sorts state ids ascending by document order.
func SortByDocumentOrder(states []StateID) {
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
}

// SortByReverseDocumentOrder sorts state ids descending by document order.
func SortByReverseDocumentOrder(states []StateID) {
	sort.Slice(states, func(i, j int) bool { return states[i] > states[j] })
}

// NormalizeEventDescriptor strips the trailing "." and ".*" suffixes of an
// event descriptor. "*" stays as-is and is handled as a wildcard.
func NormalizeEventDescriptor(descriptor string) string {
	d := strings.TrimSpace(descriptor)
	for {
		switch {
		case strings.HasSuffix(d, ".*"):
			d = d[:len(d)-2]
		case strings.HasSuffix(d, "."):
			d = d[:len(d)-1]
		default:
			return d
		}
	}
}

// EventMatch reports whether a transition with the given descriptors
// matches an event name. Matching is by token prefix: descriptor "a.b"
// matches "a.b" and "a.b.c" but not "a.bc".
func EventMatch(descriptors []string, wildcard bool, name string) bool {
	if wildcard {
		return true
	}
	for _, d := range descriptors {
		if d == "*" {
			return true
		}
		if name == d {
			return true
		}
		if strings.HasPrefix(name, d) && len(name) > len(d) && name[len(d)] == '.' {
			return true
		}
	}
	return false
}

// Matches reports whether the transition's event descriptors match name.
func (t *Transition) Matches(name string) bool {
	return EventMatch(t.Events, t.Wildcard, name)
}

// IsEventless reports whether the transition has no event descriptors.
func (t *Transition) IsEventless() bool {
	return !t.Wildcard && len(t.Events) == 0
}
