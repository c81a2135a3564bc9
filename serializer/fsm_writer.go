package serializer

import (
	"fmt"
	"io"
	"os"

	scxml "github.com/agentflare-ai/go-scxml"
)

// Write persists the document to w in the binary protocol.
func Write(fsm *scxml.Fsm, w io.Writer) error {
	pw := newProtocolWriter(w)
	pw.writeVersion()

	pw.writeString(fsm.Name)
	pw.writeString(fsm.Version)
	pw.writeString(fsm.DatamodelName)
	pw.writeInt(int64(fsm.Binding))
	pw.writeInt(int64(fsm.Root))
	pw.writeInt(int64(fsm.InitialTransition))
	pw.writeInt(int64(fsm.Script))

	pw.writeInt(int64(len(fsm.States)))
	for i := range fsm.States {
		writeState(pw, &fsm.States[i])
	}
	pw.writeInt(int64(len(fsm.Transitions)))
	for i := range fsm.Transitions {
		writeTransition(pw, &fsm.Transitions[i])
	}
	pw.writeInt(int64(len(fsm.Content)))
	for _, block := range fsm.Content {
		pw.writeInt(int64(len(block)))
		for _, a := range block {
			if err := writeAction(pw, a); err != nil {
				return err
			}
		}
	}
	return pw.flush()
}

// WriteFile persists the document to a file.
func WriteFile(fsm *scxml.Fsm, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := Write(fsm, f); err != nil {
		return err
	}
	return f.Sync()
}

func writeIDList[T ~int](pw *protocolWriter, ids []T) {
	pw.writeInt(int64(len(ids)))
	for _, id := range ids {
		pw.writeInt(int64(id))
	}
}

func writeStringList(pw *protocolWriter, items []string) {
	pw.writeInt(int64(len(items)))
	for _, s := range items {
		pw.writeString(s)
	}
}

func writeState(pw *protocolWriter, st *scxml.State) {
	pw.writeInt(int64(st.ID))
	pw.writeString(st.Name)
	pw.writeInt(int64(st.Parent))
	writeIDList(pw, st.Children)
	pw.writeBool(st.IsParallel)
	pw.writeBool(st.IsFinal)
	pw.writeInt(int64(st.History))
	pw.writeInt(int64(st.InitialTransition))
	writeIDList(pw, st.OnEntry)
	writeIDList(pw, st.OnExit)
	writeIDList(pw, st.Transitions)
	writeIDList(pw, st.HistoryStates)

	pw.writeInt(int64(len(st.Data)))
	for _, d := range st.Data {
		pw.writeString(d.ID)
		pw.writeSource(d.Expr)
		pw.writeString(d.Src)
		pw.writeString(d.Content)
	}

	pw.writeInt(int64(len(st.Invokes)))
	for i := range st.Invokes {
		writeInvoke(pw, &st.Invokes[i])
	}

	pw.writeBool(st.DoneData != nil)
	if st.DoneData != nil {
		writeCommonContent(pw, st.DoneData.Content)
		writeParams(pw, st.DoneData.Params)
	}
}

func writeInvoke(pw *protocolWriter, inv *scxml.Invoke) {
	pw.writeString(inv.ID)
	pw.writeString(inv.IDLocation)
	pw.writeString(inv.TypeName)
	pw.writeSource(inv.TypeExpr)
	pw.writeString(inv.Src)
	pw.writeSource(inv.SrcExpr)
	pw.writeSource(inv.ContentExpr)
	pw.writeString(inv.Content)
	pw.writeString(inv.ParentStateName)
	pw.writeBool(inv.Autoforward)
	writeStringList(pw, inv.Namelist)
	writeParams(pw, inv.Params)
	pw.writeInt(int64(inv.Finalize))
}

func writeParams(pw *protocolWriter, params []scxml.ParamDecl) {
	pw.writeInt(int64(len(params)))
	for _, p := range params {
		pw.writeString(p.Name)
		pw.writeSource(p.Expr)
		pw.writeString(p.Location)
	}
}

func writeCommonContent(pw *protocolWriter, c *scxml.CommonContent) {
	pw.writeBool(c != nil)
	if c != nil {
		pw.writeSource(c.Expr)
		pw.writeString(c.Content)
	}
}

func writeTransition(pw *protocolWriter, t *scxml.Transition) {
	pw.writeInt(int64(t.ID))
	pw.writeInt(int64(t.DocOrder))
	pw.writeInt(int64(t.Source))
	writeIDList(pw, t.Targets)
	writeStringList(pw, t.Events)
	pw.writeBool(t.Wildcard)
	pw.writeSource(t.Cond)
	pw.writeInt(int64(t.TType))
	pw.writeInt(int64(t.Content))
}

func writeAction(pw *protocolWriter, a scxml.Action) error {
	pw.writeInt(int64(a.Kind()))
	switch v := a.(type) {
	case *scxml.RaiseAction:
		pw.writeString(v.Event)
	case *scxml.LogAction:
		pw.writeString(v.Label)
		pw.writeSource(v.Expr)
	case *scxml.AssignAction:
		pw.writeSource(v.Location)
		pw.writeSource(v.Expr)
	case *scxml.ScriptAction:
		pw.writeSource(v.Source)
	case *scxml.IfAction:
		pw.writeSource(v.Cond)
		pw.writeInt(int64(v.Then))
		pw.writeInt(int64(v.Else))
	case *scxml.ForEachAction:
		pw.writeSource(v.Array)
		pw.writeString(v.Item)
		pw.writeString(v.Index)
		pw.writeInt(int64(v.Body))
	case *scxml.SendAction:
		pw.writeString(v.Event)
		pw.writeSource(v.EventExpr)
		pw.writeString(v.Target)
		pw.writeSource(v.TargetExpr)
		pw.writeString(v.TypeName)
		pw.writeSource(v.TypeExpr)
		pw.writeString(v.SendID)
		pw.writeString(v.IDLocation)
		pw.writeString(v.Delay)
		pw.writeSource(v.DelayExpr)
		writeStringList(pw, v.Namelist)
		writeParams(pw, v.Params)
		writeCommonContent(pw, v.Content)
	case *scxml.CancelAction:
		pw.writeString(v.SendID)
		pw.writeSource(v.SendIDExpr)
	default:
		return fmt.Errorf("cannot serialize action kind %d", a.Kind())
	}
	return nil
}
