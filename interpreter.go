package scxml

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflare-ai/go-scxml/expr"
)

// session drives one FSM instance through the W3C interpretation
// algorithm. All fields are owned by the session worker; cross-thread
// traffic arrives exclusively through the queues in the global data.
type session struct {
	fsm *Fsm
	dm  Datamodel
	g   *GlobalData

	configuration  *OrderedSet[StateID]
	statesToInvoke *OrderedSet[StateID]
	historyValue   map[StateID][]StateID
	initialized    map[StateID]bool
	running        bool
}

func newSession(fsm *Fsm, dm Datamodel) *session {
	s := &session{
		fsm:            fsm,
		dm:             dm,
		g:              dm.Global(),
		configuration:  NewOrderedSet[StateID](),
		statesToInvoke: NewOrderedSet[StateID](),
		historyValue:   map[StateID][]StateID{},
		initialized:    map[StateID]bool{},
	}
	s.g.Configuration = s.configuration
	return s
}

// interpret runs the session to completion: initialisation, the main event
// loop and the exit sequence.
func (s *session) interpret(ctx context.Context) error {
	tr := otel.Tracer("scxml")
	ctx, span := tr.Start(ctx, "scxml.interpret")
	span.SetAttributes(attribute.Int("scxml.session_id", int(s.g.SessionID)))
	defer span.End()

	if s.fsm.Root == 0 || len(s.fsm.States) == 0 {
		return &ExecutionError{Message: "document has no states"}
	}
	s.running = true

	s.dm.InitializeGlobals(ctx, s.fsm)
	if s.fsm.Binding == BindingEarly {
		for i := range s.fsm.States {
			st := &s.fsm.States[i]
			s.dm.InitializeDataFrom(ctx, st.Data, true)
			s.initialized[st.ID] = true
		}
	} else {
		root := s.fsm.State(s.fsm.Root)
		s.dm.InitializeDataFrom(ctx, root.Data, true)
		s.initialized[root.ID] = true
	}
	if s.fsm.Script != 0 {
		_ = ExecuteBlock(ctx, s.dm, s.fsm, s.fsm.Script)
	}

	if s.fsm.InitialTransition == 0 {
		return &ExecutionError{Message: "document has no initial transition"}
	}
	s.enterStates(ctx, []TransitionID{s.fsm.InitialTransition})
	s.mainEventLoop(ctx)
	s.exitInterpreter(ctx)
	return nil
}

func (s *session) mainEventLoop(ctx context.Context) {
	for s.running {
		// Macrostep: drain eventless transitions and the internal queue
		// until the configuration is stable.
		for s.running {
			enabled := s.selectEventlessTransitions(ctx)
			if len(enabled) == 0 {
				internalEvent := s.g.InternalQueue.Dequeue()
				if internalEvent == nil {
					break
				}
				s.traceInternalEvent(internalEvent)
				s.bindEvent(internalEvent)
				enabled = s.selectTransitions(ctx, internalEvent)
			}
			if len(enabled) > 0 {
				s.microstep(ctx, enabled)
			}
		}
		if !s.running {
			break
		}

		// The macrostep is stable: fire the invokes of states entered
		// during it.
		toInvoke := s.statesToInvoke.ToList()
		SortByDocumentOrder(toInvoke)
		for _, sid := range toInvoke {
			st := s.fsm.State(sid)
			for i := range st.Invokes {
				s.invoke(ctx, sid, &st.Invokes[i])
			}
		}
		s.statesToInvoke.Clear()
		// Invoking may have raised error events; run another macrostep
		// before blocking.
		if !s.g.InternalQueue.IsEmpty() {
			continue
		}

		externalEvent, err := s.g.ExternalQueue.Dequeue(ctx)
		if err != nil {
			// Queue closed or context cancelled: cooperative shutdown.
			s.running = false
			break
		}
		if externalEvent.IsCancelEvent() {
			s.running = false
			break
		}
		externalEvent = externalEvent.Copy()
		s.traceExternalEvent(externalEvent)
		s.bindEvent(externalEvent)
		s.handleInvokedSessions(ctx, externalEvent)
		if enabled := s.selectTransitions(ctx, externalEvent); len(enabled) > 0 {
			s.microstep(ctx, enabled)
		}
	}
}

// bindEvent publishes ev as _event before any guard or action sees it.
func (s *session) bindEvent(ev *Event) {
	s.g.CurrentEvent = ev
	s.dm.SetEvent(ev)
}

// handleInvokedSessions applies finalize content for the child that sent
// the event and autoforwards the event to invoked children.
func (s *session) handleInvokedSessions(ctx context.Context, ev *Event) {
	for invokeID, child := range s.g.childSessionsSnapshot() {
		if ev.InvokeID != "" && ev.InvokeID == invokeID && child.finalize != 0 {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, child.finalize)
		}
		if child.autoforward {
			child.handle.ExternalQueue.Enqueue(ev.Copy())
		}
	}
}

// selectEventlessTransitions returns the non-conflicting eventless
// transitions enabled in the current configuration.
func (s *session) selectEventlessTransitions(ctx context.Context) []TransitionID {
	return s.selectTransitionsWith(ctx, func(t *Transition) bool {
		return t.IsEventless() && s.conditionMatch(ctx, t)
	})
}

// selectTransitions returns the non-conflicting transitions enabled by ev.
func (s *session) selectTransitions(ctx context.Context, ev *Event) []TransitionID {
	return s.selectTransitionsWith(ctx, func(t *Transition) bool {
		return !t.IsEventless() && t.Matches(ev.Name) && s.conditionMatch(ctx, t)
	})
}

// selectTransitionsWith walks the atomic states of the configuration in
// document order; for each, the state itself and then its ancestors are
// searched for the first transition the predicate accepts.
func (s *session) selectTransitionsWith(ctx context.Context, accept func(*Transition) bool) []TransitionID {
	var enabled []TransitionID
	atomic := s.configuration.Filter(func(id StateID) bool { return s.fsm.IsAtomic(id) })
	SortByDocumentOrder(atomic)
	for _, stateID := range atomic {
		chain := append([]StateID{stateID}, s.fsm.ProperAncestors(stateID, 0)...)
	search:
		for _, sid := range chain {
			for _, tid := range s.fsm.State(sid).Transitions {
				if accept(s.fsm.Transition(tid)) {
					enabled = append(enabled, tid)
					break search
				}
			}
		}
	}
	return s.removeConflictingTransitions(enabled)
}

func (s *session) conditionMatch(ctx context.Context, t *Transition) bool {
	if t.Cond.Empty() {
		return true
	}
	ok, err := s.dm.ExecuteCondition(ctx, t.Cond)
	if err != nil {
		s.dm.ErrorExecution(ctx, fmt.Sprintf("condition '%s': %v", t.Cond.Code, err))
		return false
	}
	return ok
}

// removeConflictingTransitions resolves overlapping exit sets: a
// transition selected by an earlier (document order) state wins unless the
// later transition's source is a descendant of its source.
func (s *session) removeConflictingTransitions(enabled []TransitionID) []TransitionID {
	var filtered []TransitionID
	for _, t1 := range enabled {
		exit1 := NewOrderedSet(s.computeExitSet([]TransitionID{t1})...)
		preempted := false
		var replaced []TransitionID
		for _, t2 := range filtered {
			exit2 := NewOrderedSet(s.computeExitSet([]TransitionID{t2})...)
			if !exit1.HasIntersection(exit2) {
				continue
			}
			if s.fsm.IsDescendant(s.fsm.Transition(t1).Source, s.fsm.Transition(t2).Source) {
				replaced = append(replaced, t2)
			} else {
				preempted = true
				break
			}
		}
		if preempted {
			continue
		}
		for _, r := range replaced {
			for i, f := range filtered {
				if f == r {
					filtered = append(filtered[:i], filtered[i+1:]...)
					break
				}
			}
		}
		filtered = append(filtered, t1)
	}
	return filtered
}

// microstep executes one non-conflicting transition set atomically.
func (s *session) microstep(ctx context.Context, enabled []TransitionID) {
	s.exitStates(ctx, enabled)
	for _, tid := range enabled {
		t := s.fsm.Transition(tid)
		if t.Content != 0 {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, t.Content)
		}
	}
	s.enterStates(ctx, enabled)
}

// computeExitSet returns the active states left when the transitions are
// taken, unordered.
func (s *session) computeExitSet(transitions []TransitionID) []StateID {
	var out []StateID
	seen := map[StateID]bool{}
	for _, tid := range transitions {
		t := s.fsm.Transition(tid)
		if len(t.Targets) == 0 {
			continue
		}
		domain := s.getTransitionDomain(t)
		for _, sid := range s.configuration.ToList() {
			if s.fsm.IsDescendant(sid, domain) && !seen[sid] {
				seen[sid] = true
				out = append(out, sid)
			}
		}
	}
	return out
}

func (s *session) exitStates(ctx context.Context, enabled []TransitionID) {
	exitSet := s.computeExitSet(enabled)
	SortByReverseDocumentOrder(exitSet)
	for _, sid := range exitSet {
		s.statesToInvoke.Delete(sid)
	}
	// Record history before anything is exited.
	for _, sid := range exitSet {
		st := s.fsm.State(sid)
		for _, h := range st.HistoryStates {
			hist := s.fsm.State(h)
			var recorded []StateID
			if hist.History == HistoryDeep {
				recorded = s.configuration.Filter(func(c StateID) bool {
					return s.fsm.IsAtomic(c) && s.fsm.IsDescendant(c, sid)
				})
			} else {
				recorded = s.configuration.Filter(func(c StateID) bool {
					return s.fsm.State(c).Parent == sid
				})
			}
			s.historyValue[h] = recorded
		}
	}
	for _, sid := range exitSet {
		st := s.fsm.State(sid)
		for _, c := range st.OnExit {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, c)
		}
		s.cancelInvokes(ctx, sid)
		s.configuration.Delete(sid)
		s.traceExitState(st)
	}
}

// getTransitionDomain returns the state within which the transition is
// taken: the source itself for internal transitions to own descendants,
// the LCCA otherwise.
func (s *session) getTransitionDomain(t *Transition) StateID {
	targets := s.getEffectiveTargetStates(t)
	if len(targets) == 0 {
		return 0
	}
	if t.TType == TransitionInternal && s.fsm.IsCompound(t.Source) {
		all := true
		for _, tgt := range targets {
			if !s.fsm.IsDescendant(tgt, t.Source) {
				all = false
				break
			}
		}
		if all {
			return t.Source
		}
	}
	return s.fsm.FindLCCA(append([]StateID{t.Source}, targets...))
}

// getEffectiveTargetStates resolves history pseudo-states into their
// recorded configuration or their default transition's targets.
func (s *session) getEffectiveTargetStates(t *Transition) []StateID {
	set := NewOrderedSet[StateID]()
	for _, tgt := range t.Targets {
		if s.fsm.IsHistory(tgt) {
			if recorded, ok := s.historyValue[tgt]; ok && len(recorded) > 0 {
				for _, r := range recorded {
					set.Add(r)
				}
				continue
			}
			if def := s.fsm.State(tgt).InitialTransition; def != 0 {
				for _, r := range s.getEffectiveTargetStates(s.fsm.Transition(def)) {
					set.Add(r)
				}
			}
			continue
		}
		set.Add(tgt)
	}
	return set.ToList()
}

func (s *session) enterStates(ctx context.Context, enabled []TransitionID) {
	statesToEnter := NewOrderedSet[StateID]()
	statesForDefaultEntry := NewOrderedSet[StateID]()
	defaultHistoryContent := map[StateID]ContentID{}

	s.computeEntrySet(enabled, statesToEnter, statesForDefaultEntry, defaultHistoryContent)

	ordered := statesToEnter.ToList()
	SortByDocumentOrder(ordered)
	for _, sid := range ordered {
		st := s.fsm.State(sid)
		s.configuration.Add(sid)
		s.statesToInvoke.Add(sid)
		if s.fsm.Binding == BindingLate && !s.initialized[sid] {
			s.dm.InitializeDataFrom(ctx, st.Data, true)
			s.initialized[sid] = true
		}
		s.traceEnterState(st)
		for _, c := range st.OnEntry {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, c)
		}
		if statesForDefaultEntry.IsMember(sid) && st.InitialTransition != 0 {
			if c := s.fsm.Transition(st.InitialTransition).Content; c != 0 {
				_ = ExecuteBlock(ctx, s.dm, s.fsm, c)
			}
		}
		if c, ok := defaultHistoryContent[sid]; ok && c != 0 {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, c)
		}
		if st.IsFinal {
			parent := st.Parent
			if parent == 0 || s.fsm.IsScxmlRoot(parent) {
				s.running = false
				s.g.FinalDoneData = s.evalDoneData(ctx, st.DoneData)
				continue
			}
			doneData := s.evalDoneData(ctx, st.DoneData)
			s.g.EnqueueInternal(DoneStateEvent(s.fsm.State(parent).Name, doneData))
			grandparent := s.fsm.State(parent).Parent
			if grandparent != 0 && s.fsm.State(grandparent).IsParallel {
				allFinal := true
				for _, child := range s.fsm.ChildStates(grandparent) {
					if !s.isInFinalState(child) {
						allFinal = false
						break
					}
				}
				if allFinal {
					s.g.EnqueueInternal(DoneStateEvent(s.fsm.State(grandparent).Name, expr.None{}))
				}
			}
		}
	}
}

func (s *session) computeEntrySet(enabled []TransitionID, statesToEnter, statesForDefaultEntry *OrderedSet[StateID], defaultHistoryContent map[StateID]ContentID) {
	for _, tid := range enabled {
		t := s.fsm.Transition(tid)
		for _, tgt := range t.Targets {
			s.addDescendantStatesToEnter(tgt, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		ancestor := s.getTransitionDomain(t)
		for _, tgt := range s.getEffectiveTargetStates(t) {
			s.addAncestorStatesToEnter(tgt, ancestor, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
	}
}

func (s *session) addDescendantStatesToEnter(sid StateID, statesToEnter, statesForDefaultEntry *OrderedSet[StateID], defaultHistoryContent map[StateID]ContentID) {
	if s.fsm.IsHistory(sid) {
		hist := s.fsm.State(sid)
		if recorded, ok := s.historyValue[sid]; ok && len(recorded) > 0 {
			for _, r := range recorded {
				s.addDescendantStatesToEnter(r, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
			for _, r := range recorded {
				s.addAncestorStatesToEnter(r, hist.Parent, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
			return
		}
		if hist.InitialTransition == 0 {
			return
		}
		def := s.fsm.Transition(hist.InitialTransition)
		if def.Content != 0 {
			defaultHistoryContent[hist.Parent] = def.Content
		}
		for _, tgt := range def.Targets {
			s.addDescendantStatesToEnter(tgt, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		for _, tgt := range def.Targets {
			s.addAncestorStatesToEnter(tgt, hist.Parent, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		return
	}
	statesToEnter.Add(sid)
	if s.fsm.IsCompound(sid) {
		statesForDefaultEntry.Add(sid)
		st := s.fsm.State(sid)
		if st.InitialTransition == 0 {
			return
		}
		def := s.fsm.Transition(st.InitialTransition)
		for _, tgt := range def.Targets {
			s.addDescendantStatesToEnter(tgt, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		for _, tgt := range def.Targets {
			s.addAncestorStatesToEnter(tgt, sid, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
		}
		return
	}
	if s.fsm.State(sid).IsParallel {
		for _, child := range s.fsm.ChildStates(sid) {
			if !statesToEnter.Some(func(e StateID) bool { return s.fsm.IsDescendant(e, child) }) {
				s.addDescendantStatesToEnter(child, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
			}
		}
	}
}

func (s *session) addAncestorStatesToEnter(sid, ancestor StateID, statesToEnter, statesForDefaultEntry *OrderedSet[StateID], defaultHistoryContent map[StateID]ContentID) {
	for _, anc := range s.fsm.ProperAncestors(sid, ancestor) {
		statesToEnter.Add(anc)
		if s.fsm.State(anc).IsParallel {
			for _, child := range s.fsm.ChildStates(anc) {
				if !statesToEnter.Some(func(e StateID) bool { return s.fsm.IsDescendant(e, child) }) {
					s.addDescendantStatesToEnter(child, statesToEnter, statesForDefaultEntry, defaultHistoryContent)
				}
			}
		}
	}
}

// isInFinalState reports whether a compound state has an active final
// child, or a parallel state has every region in a final state.
func (s *session) isInFinalState(sid StateID) bool {
	st := s.fsm.State(sid)
	if st.IsParallel {
		for _, child := range s.fsm.ChildStates(sid) {
			if !s.isInFinalState(child) {
				return false
			}
		}
		return len(st.Children) > 0
	}
	if s.fsm.IsCompound(sid) {
		for _, child := range s.fsm.ChildStates(sid) {
			if s.fsm.State(child).IsFinal && s.configuration.IsMember(child) {
				return true
			}
		}
	}
	return false
}

// evalDoneData resolves the <donedata> payload of a final state.
func (s *session) evalDoneData(ctx context.Context, dd *DoneData) expr.Data {
	if dd == nil {
		return expr.None{}
	}
	if dd.Content != nil {
		v, err := evalContent(ctx, s.dm, dd.Content)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("donedata: %v", err))
			return expr.None{}
		}
		return v
	}
	if len(dd.Params) > 0 {
		m := expr.NewMap()
		for _, p := range dd.Params {
			v, err := evalParam(ctx, s.dm, p)
			if err != nil {
				s.dm.ErrorExecution(ctx, fmt.Sprintf("donedata param '%s': %v", p.Name, err))
				continue
			}
			m.Set(p.Name, v)
		}
		return m
	}
	return expr.None{}
}

// invoke launches one <invoke> of a state entered this macrostep.
func (s *session) invoke(ctx context.Context, stateID StateID, inv *Invoke) {
	typeName := inv.TypeName
	if !inv.TypeExpr.Empty() {
		v, err := s.dm.Execute(ctx, inv.TypeExpr)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke typeexpr: %v", err))
			return
		}
		typeName = v.String()
	}
	switch typeName {
	case "", ScxmlInvokeType, ScxmlInvokeTypeShort, ScxmlEventProcessorType:
	default:
		s.dm.ErrorExecution(ctx, fmt.Sprintf("unsupported invoke type '%s'", typeName))
		return
	}

	src := inv.Src
	if !inv.SrcExpr.Empty() {
		v, err := s.dm.Execute(ctx, inv.SrcExpr)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke srcexpr: %v", err))
			return
		}
		src = v.String()
	}
	content := inv.Content
	if !inv.ContentExpr.Empty() {
		v, err := s.dm.Execute(ctx, inv.ContentExpr)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke content: %v", err))
			return
		}
		content = v.String()
	}

	invokeID := inv.ID
	if invokeID == "" {
		invokeID = fmt.Sprintf("%s.%s", inv.ParentStateName, newPlatformID())
	}
	if inv.IDLocation != "" {
		if err := s.dm.Assign(ctx, expr.Source{Code: inv.IDLocation}, expr.String(invokeID)); err != nil {
			return
		}
	}

	if s.g.Executor == nil {
		s.dm.ErrorExecution(ctx, "no executor available for invoke")
		return
	}
	childFsm, err := s.g.Executor.loadDocument(src, content)
	if err != nil {
		s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke: %v", err))
		return
	}

	data := map[string]expr.Data{}
	for _, loc := range inv.Namelist {
		v, err := s.dm.GetByLocation(ctx, loc)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke namelist '%s': %v", loc, err))
			return
		}
		data[loc] = v
	}
	for _, p := range inv.Params {
		v, err := evalParam(ctx, s.dm, p)
		if err != nil {
			s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke param '%s': %v", p.Name, err))
			return
		}
		data[p.Name] = v
	}

	handle, err := s.g.Executor.Execute(ctx, childFsm, ExecuteOptions{
		Data:       data,
		Parent:     s.g.SessionID,
		InvokeID:   invokeID,
		FinishMode: FinishModeNotifyParentAndDispose,
	})
	if err != nil {
		s.dm.ErrorExecution(ctx, fmt.Sprintf("invoke: %v", err))
		return
	}
	s.g.AddChildSession(invokeID, handle, inv.Autoforward, stateID, inv.Finalize)
}

// cancelInvokes shuts down the children invoked by an exiting state.
func (s *session) cancelInvokes(ctx context.Context, stateID StateID) {
	for invokeID, child := range s.g.childSessionsSnapshot() {
		if child.stateID != stateID {
			continue
		}
		child.handle.ExternalQueue.Enqueue(CancelSessionEvent())
		s.g.RemoveChildSession(invokeID)
	}
}

// exitInterpreter runs the termination sequence: exit all active states in
// reverse document order, drop pending sends and shut down children. The
// parent of an invoked session is notified by the executor once the worker
// returns (finishSession).
func (s *session) exitInterpreter(ctx context.Context) {
	states := s.configuration.ToList()
	SortByReverseDocumentOrder(states)
	for _, sid := range states {
		st := s.fsm.State(sid)
		for _, c := range st.OnExit {
			_ = ExecuteBlock(ctx, s.dm, s.fsm, c)
		}
		s.cancelInvokes(ctx, sid)
		s.configuration.Delete(sid)
		s.traceExitState(st)
	}
	s.g.CancelAllSends()
	for invokeID, child := range s.g.childSessionsSnapshot() {
		child.handle.ExternalQueue.Enqueue(CancelSessionEvent())
		s.g.RemoveChildSession(invokeID)
	}
}

func (s *session) traceEnterState(st *State) {
	if s.g.Tracer != nil {
		s.g.Tracer.EnterState(s.g.SessionID, st.Name)
	}
}

func (s *session) traceExitState(st *State) {
	if s.g.Tracer != nil {
		s.g.Tracer.ExitState(s.g.SessionID, st.Name)
	}
}

func (s *session) traceInternalEvent(ev *Event) {
	if s.g.Tracer != nil {
		s.g.Tracer.EventInternal(s.g.SessionID, ev)
	}
}

func (s *session) traceExternalEvent(ev *Event) {
	if s.g.Tracer != nil {
		s.g.Tracer.EventExternalReceived(s.g.SessionID, ev)
	}
}
