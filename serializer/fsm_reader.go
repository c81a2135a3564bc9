package serializer

import (
	"fmt"
	"io"
	"os"

	scxml "github.com/agentflare-ai/go-scxml"
)

// Read loads a document from its binary form. The protocol version is
// matched exactly; a mismatch fails the load and no session is created.
func Read(r io.Reader) (*scxml.Fsm, error) {
	pr := newProtocolReader(r)
	if err := pr.readVersion(); err != nil {
		return nil, err
	}

	fsm := scxml.NewFsm()
	fsm.Name = pr.readString()
	fsm.Version = pr.readString()
	fsm.DatamodelName = pr.readString()
	fsm.Binding = scxml.BindingType(pr.readInt())
	fsm.Root = scxml.StateID(pr.readInt())
	fsm.InitialTransition = scxml.TransitionID(pr.readInt())
	fsm.Script = scxml.ContentID(pr.readInt())

	stateCount := pr.readInt()
	for i := int64(0); i < stateCount && pr.err == nil; i++ {
		fsm.States = append(fsm.States, readState(pr))
	}
	transitionCount := pr.readInt()
	for i := int64(0); i < transitionCount && pr.err == nil; i++ {
		fsm.Transitions = append(fsm.Transitions, readTransition(pr))
	}
	blockCount := pr.readInt()
	for i := int64(0); i < blockCount && pr.err == nil; i++ {
		actionCount := pr.readInt()
		var block []scxml.Action
		for j := int64(0); j < actionCount && pr.err == nil; j++ {
			a, err := readAction(pr)
			if err != nil {
				return nil, err
			}
			block = append(block, a)
		}
		fsm.Content = append(fsm.Content, block)
	}
	if pr.err != nil {
		return nil, fmt.Errorf("binary load: %w", pr.err)
	}
	fsm.RebuildNameIndex()
	return fsm, nil
}

// ReadFile loads a document from a file.
func ReadFile(path string) (*scxml.Fsm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func readIDList[T ~int](pr *protocolReader) []T {
	n := pr.readInt()
	var out []T
	for i := int64(0); i < n && pr.err == nil; i++ {
		out = append(out, T(pr.readInt()))
	}
	return out
}

func readStringList(pr *protocolReader) []string {
	n := pr.readInt()
	var out []string
	for i := int64(0); i < n && pr.err == nil; i++ {
		out = append(out, pr.readString())
	}
	return out
}

func readState(pr *protocolReader) scxml.State {
	st := scxml.State{
		ID:     scxml.StateID(pr.readInt()),
		Name:   pr.readString(),
		Parent: scxml.StateID(pr.readInt()),
	}
	st.Children = readIDList[scxml.StateID](pr)
	st.IsParallel = pr.readBool()
	st.IsFinal = pr.readBool()
	st.History = scxml.HistoryType(pr.readInt())
	st.InitialTransition = scxml.TransitionID(pr.readInt())
	st.OnEntry = readIDList[scxml.ContentID](pr)
	st.OnExit = readIDList[scxml.ContentID](pr)
	st.Transitions = readIDList[scxml.TransitionID](pr)
	st.HistoryStates = readIDList[scxml.StateID](pr)

	dataCount := pr.readInt()
	for i := int64(0); i < dataCount && pr.err == nil; i++ {
		st.Data = append(st.Data, scxml.DataDecl{
			ID:      pr.readString(),
			Expr:    pr.readSource(),
			Src:     pr.readString(),
			Content: pr.readString(),
		})
	}

	invokeCount := pr.readInt()
	for i := int64(0); i < invokeCount && pr.err == nil; i++ {
		st.Invokes = append(st.Invokes, readInvoke(pr))
	}

	if pr.readBool() {
		dd := &scxml.DoneData{}
		dd.Content = readCommonContent(pr)
		dd.Params = readParams(pr)
		st.DoneData = dd
	}
	return st
}

func readInvoke(pr *protocolReader) scxml.Invoke {
	return scxml.Invoke{
		ID:              pr.readString(),
		IDLocation:      pr.readString(),
		TypeName:        pr.readString(),
		TypeExpr:        pr.readSource(),
		Src:             pr.readString(),
		SrcExpr:         pr.readSource(),
		ContentExpr:     pr.readSource(),
		Content:         pr.readString(),
		ParentStateName: pr.readString(),
		Autoforward:     pr.readBool(),
		Namelist:        readStringList(pr),
		Params:          readParams(pr),
		Finalize:        scxml.ContentID(pr.readInt()),
	}
}

func readParams(pr *protocolReader) []scxml.ParamDecl {
	n := pr.readInt()
	var out []scxml.ParamDecl
	for i := int64(0); i < n && pr.err == nil; i++ {
		out = append(out, scxml.ParamDecl{
			Name:     pr.readString(),
			Expr:     pr.readSource(),
			Location: pr.readString(),
		})
	}
	return out
}

func readCommonContent(pr *protocolReader) *scxml.CommonContent {
	if !pr.readBool() {
		return nil
	}
	return &scxml.CommonContent{
		Expr:    pr.readSource(),
		Content: pr.readString(),
	}
}

func readTransition(pr *protocolReader) scxml.Transition {
	t := scxml.Transition{
		ID:       scxml.TransitionID(pr.readInt()),
		DocOrder: int(pr.readInt()),
		Source:   scxml.StateID(pr.readInt()),
	}
	t.Targets = readIDList[scxml.StateID](pr)
	t.Events = readStringList(pr)
	t.Wildcard = pr.readBool()
	t.Cond = pr.readSource()
	t.TType = scxml.TransitionType(pr.readInt())
	t.Content = scxml.ContentID(pr.readInt())
	return t
}

func readAction(pr *protocolReader) (scxml.Action, error) {
	kind := scxml.ActionKind(pr.readInt())
	if pr.err != nil {
		return nil, pr.err
	}
	switch kind {
	case scxml.ActionKindRaise:
		return &scxml.RaiseAction{Event: pr.readString()}, pr.err
	case scxml.ActionKindLog:
		return &scxml.LogAction{Label: pr.readString(), Expr: pr.readSource()}, pr.err
	case scxml.ActionKindAssign:
		return &scxml.AssignAction{Location: pr.readSource(), Expr: pr.readSource()}, pr.err
	case scxml.ActionKindScript:
		return &scxml.ScriptAction{Source: pr.readSource()}, pr.err
	case scxml.ActionKindIf:
		return &scxml.IfAction{
			Cond: pr.readSource(),
			Then: scxml.ContentID(pr.readInt()),
			Else: scxml.ContentID(pr.readInt()),
		}, pr.err
	case scxml.ActionKindForEach:
		return &scxml.ForEachAction{
			Array: pr.readSource(),
			Item:  pr.readString(),
			Index: pr.readString(),
			Body:  scxml.ContentID(pr.readInt()),
		}, pr.err
	case scxml.ActionKindSend:
		return &scxml.SendAction{
			Event:      pr.readString(),
			EventExpr:  pr.readSource(),
			Target:     pr.readString(),
			TargetExpr: pr.readSource(),
			TypeName:   pr.readString(),
			TypeExpr:   pr.readSource(),
			SendID:     pr.readString(),
			IDLocation: pr.readString(),
			Delay:      pr.readString(),
			DelayExpr:  pr.readSource(),
			Namelist:   readStringList(pr),
			Params:     readParams(pr),
			Content:    readCommonContent(pr),
		}, pr.err
	case scxml.ActionKindCancel:
		return &scxml.CancelAction{SendID: pr.readString(), SendIDExpr: pr.readSource()}, pr.err
	}
	return nil, fmt.Errorf("unknown action kind %d in stream", kind)
}
