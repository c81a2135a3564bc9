// Package reader parses SCXML 1.0 documents into the immutable FSM
// document model. Structural errors (missing required attributes, illegal
// nesting, unresolvable targets) are reported before any session starts.
package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentflare-ai/go-xmldom"

	scxml "github.com/agentflare-ai/go-scxml"
	"github.com/agentflare-ai/go-scxml/expr"
)

// ScxmlNamespace is the namespace of the SCXML 1.0 element set.
const ScxmlNamespace = "http://www.w3.org/2005/07/scxml"

// StructuralError is a document error detected at parse time. It is not
// recoverable; no session is created.
type StructuralError struct {
	Message string
}

func (e *StructuralError) Error() string { return e.Message }

// Parse builds a document from SCXML text.
func Parse(data []byte, includePaths []string) (*scxml.Fsm, error) {
	doc, err := xmldom.NewDecoderFromBytes(data).Decode()
	if err != nil {
		return nil, fmt.Errorf("scxml parse: %w", err)
	}
	root := doc.DocumentElement()
	if root == nil {
		return nil, &StructuralError{Message: "document has no root element"}
	}
	if string(root.LocalName()) != "scxml" {
		return nil, &StructuralError{Message: fmt.Sprintf("root element is <%s>, expected <scxml>", root.LocalName())}
	}
	p := &parser{
		fsm:          scxml.NewFsm(),
		includePaths: includePaths,
	}
	if err := p.parseDocument(root); err != nil {
		return nil, err
	}
	return p.fsm, nil
}

// ParseFile builds a document from a file, resolving relative script and
// invoke sources against the include paths.
func ParseFile(path string, includePaths []string) (*scxml.Fsm, error) {
	resolved, err := resolvePath(path, includePaths)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("scxml load: %w", err)
	}
	return Parse(data, append([]string{filepath.Dir(resolved)}, includePaths...))
}

// Loader returns the document loader used by <invoke> to obtain child
// documents from a src URI or inline content.
func Loader(includePaths []string) scxml.DocumentLoaderFunc {
	return func(src, content string) (*scxml.Fsm, error) {
		if content != "" {
			return Parse([]byte(content), includePaths)
		}
		src = strings.TrimPrefix(src, "file:")
		if src == "" {
			return nil, &StructuralError{Message: "invoke has neither src nor content"}
		}
		return ParseFile(src, includePaths)
	}
}

func resolvePath(path string, includePaths []string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, dir := range includePaths {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot resolve '%s' against the include paths", path)
}

// pendingTransition defers target resolution until every state is known.
type pendingTransition struct {
	source  scxml.StateID
	el      xmldom.Element
	initial bool
}

// pendingInitialAttr defers an initial="..." attribute.
type pendingInitialAttr struct {
	state   scxml.StateID
	targets []string
}

type parser struct {
	fsm          *scxml.Fsm
	includePaths []string
	transitions  []pendingTransition
	initialAttrs []pendingInitialAttr
	rootInitial  []string
	generated    int
}

func (p *parser) structuralf(format string, args ...any) error {
	return &StructuralError{Message: fmt.Sprintf(format, args...)}
}

func attr(el xmldom.Element, name string) string {
	return strings.TrimSpace(string(el.GetAttribute(xmldom.DOMString(name))))
}

func source(el xmldom.Element, name string) expr.Source {
	if v := attr(el, name); v != "" {
		return expr.NewSource(v)
	}
	return expr.Source{}
}

// childElements returns the element children in document order.
func childElements(el xmldom.Element) []xmldom.Element {
	var out []xmldom.Element
	nodes := el.ChildNodes()
	for i := uint(0); i < nodes.Length(); i++ {
		if child, ok := nodes.Item(i).(xmldom.Element); ok && child != nil {
			out = append(out, child)
		}
	}
	return out
}

func (p *parser) parseDocument(root xmldom.Element) error {
	p.fsm.Name = attr(root, "name")
	if v := attr(root, "version"); v != "" {
		p.fsm.Version = v
	}
	p.fsm.DatamodelName = attr(root, "datamodel")
	if attr(root, "binding") == "late" {
		p.fsm.Binding = scxml.BindingLate
	}

	rootID := p.fsm.AddState(scxml.State{Name: "(scxml)"})
	p.fsm.Root = rootID
	if initial := attr(root, "initial"); initial != "" {
		p.rootInitial = strings.Fields(initial)
	}

	for _, child := range childElements(root) {
		switch string(child.LocalName()) {
		case "state", "parallel", "final":
			if err := p.parseState(child, rootID); err != nil {
				return err
			}
		case "datamodel":
			p.fsm.State(rootID).Data = append(p.fsm.State(rootID).Data, p.parseDatamodel(child)...)
		case "script":
			block, err := p.parseActions([]xmldom.Element{child})
			if err != nil {
				return err
			}
			p.fsm.Script = block
		}
	}

	if err := p.resolveTransitions(); err != nil {
		return err
	}
	if err := p.resolveInitialAttrs(); err != nil {
		return err
	}
	if err := p.synthesizeInitialTransitions(); err != nil {
		return err
	}
	return p.validate()
}

func (p *parser) parseState(el xmldom.Element, parent scxml.StateID) error {
	local := string(el.LocalName())
	name := attr(el, "id")
	if name == "" {
		p.generated++
		name = fmt.Sprintf("__state_%d", p.generated)
	}
	if _, exists := p.fsm.StateByName(name); exists {
		return p.structuralf("duplicate state id '%s'", name)
	}

	st := scxml.State{
		Name:       name,
		Parent:     parent,
		IsParallel: local == "parallel",
		IsFinal:    local == "final",
	}
	if local == "history" {
		if attr(el, "type") == "deep" {
			st.History = scxml.HistoryDeep
		} else {
			st.History = scxml.HistoryShallow
		}
	}
	id := p.fsm.AddState(st)

	if local == "history" {
		p.fsm.State(parent).HistoryStates = append(p.fsm.State(parent).HistoryStates, id)
	} else {
		p.fsm.State(parent).Children = append(p.fsm.State(parent).Children, id)
	}

	if initial := attr(el, "initial"); initial != "" {
		if st.IsParallel {
			return p.structuralf("state '%s': parallel states cannot declare initial", name)
		}
		p.initialAttrs = append(p.initialAttrs, pendingInitialAttr{state: id, targets: strings.Fields(initial)})
	}

	for _, child := range childElements(el) {
		switch string(child.LocalName()) {
		case "state", "parallel", "final", "history":
			if local == "final" {
				return p.structuralf("state '%s': final states cannot have child states", name)
			}
			if err := p.parseState(child, id); err != nil {
				return err
			}
		case "initial":
			for _, t := range childElements(child) {
				if string(t.LocalName()) == "transition" {
					p.transitions = append(p.transitions, pendingTransition{source: id, el: t, initial: true})
				}
			}
		case "transition":
			p.transitions = append(p.transitions, pendingTransition{source: id, el: child})
		case "onentry":
			block, err := p.parseActions(childElements(child))
			if err != nil {
				return err
			}
			p.fsm.State(id).OnEntry = append(p.fsm.State(id).OnEntry, block)
		case "onexit":
			block, err := p.parseActions(childElements(child))
			if err != nil {
				return err
			}
			p.fsm.State(id).OnExit = append(p.fsm.State(id).OnExit, block)
		case "datamodel":
			p.fsm.State(id).Data = append(p.fsm.State(id).Data, p.parseDatamodel(child)...)
		case "invoke":
			inv, err := p.parseInvoke(child, name)
			if err != nil {
				return err
			}
			p.fsm.State(id).Invokes = append(p.fsm.State(id).Invokes, inv)
		case "donedata":
			dd, err := p.parseDoneData(child)
			if err != nil {
				return err
			}
			p.fsm.State(id).DoneData = dd
		}
	}
	return nil
}

func (p *parser) parseDatamodel(el xmldom.Element) []scxml.DataDecl {
	var out []scxml.DataDecl
	for _, child := range childElements(el) {
		if string(child.LocalName()) != "data" {
			continue
		}
		out = append(out, scxml.DataDecl{
			ID:      attr(child, "id"),
			Expr:    source(child, "expr"),
			Src:     attr(child, "src"),
			Content: strings.TrimSpace(string(child.TextContent())),
		})
	}
	return out
}

func (p *parser) parseInvoke(el xmldom.Element, stateName string) (scxml.Invoke, error) {
	inv := scxml.Invoke{
		ID:              attr(el, "id"),
		IDLocation:      attr(el, "idlocation"),
		TypeName:        attr(el, "type"),
		TypeExpr:        source(el, "typeexpr"),
		Src:             attr(el, "src"),
		SrcExpr:         source(el, "srcexpr"),
		ParentStateName: stateName,
		Autoforward:     attr(el, "autoforward") == "true",
	}
	if nl := attr(el, "namelist"); nl != "" {
		inv.Namelist = strings.Fields(nl)
	}
	for _, child := range childElements(el) {
		switch string(child.LocalName()) {
		case "param":
			inv.Params = append(inv.Params, parseParam(child))
		case "content":
			if e := source(child, "expr"); !e.Empty() {
				inv.ContentExpr = e
			} else {
				inv.Content = strings.TrimSpace(string(child.TextContent()))
			}
		case "finalize":
			block, err := p.parseActions(childElements(child))
			if err != nil {
				return inv, err
			}
			inv.Finalize = block
		}
	}
	return inv, nil
}

func parseParam(el xmldom.Element) scxml.ParamDecl {
	return scxml.ParamDecl{
		Name:     attr(el, "name"),
		Expr:     source(el, "expr"),
		Location: attr(el, "location"),
	}
}

func (p *parser) parseDoneData(el xmldom.Element) (*scxml.DoneData, error) {
	dd := &scxml.DoneData{}
	for _, child := range childElements(el) {
		switch string(child.LocalName()) {
		case "content":
			dd.Content = &scxml.CommonContent{
				Expr:    source(child, "expr"),
				Content: strings.TrimSpace(string(child.TextContent())),
			}
		case "param":
			dd.Params = append(dd.Params, parseParam(child))
		}
	}
	return dd, nil
}

// parseActions translates a run of executable content elements into one
// content block.
func (p *parser) parseActions(elements []xmldom.Element) (scxml.ContentID, error) {
	actions, err := p.parseActionList(elements)
	if err != nil {
		return 0, err
	}
	return p.fsm.AddContent(actions), nil
}

func (p *parser) parseActionList(elements []xmldom.Element) ([]scxml.Action, error) {
	var actions []scxml.Action
	for _, el := range elements {
		a, err := p.parseAction(el)
		if err != nil {
			return nil, err
		}
		if a != nil {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

func (p *parser) parseAction(el xmldom.Element) (scxml.Action, error) {
	switch string(el.LocalName()) {
	case "raise":
		event := attr(el, "event")
		if event == "" {
			return nil, p.structuralf("<raise> requires an event attribute")
		}
		return &scxml.RaiseAction{Event: event}, nil
	case "log":
		return &scxml.LogAction{Label: attr(el, "label"), Expr: source(el, "expr")}, nil
	case "assign":
		location := attr(el, "location")
		if location == "" {
			return nil, p.structuralf("<assign> requires a location attribute")
		}
		e := source(el, "expr")
		if e.Empty() {
			// The value may be given as element content.
			if text := strings.TrimSpace(string(el.TextContent())); text != "" {
				e = expr.NewSource(text)
			}
		}
		return &scxml.AssignAction{Location: expr.NewSource(location), Expr: e}, nil
	case "script":
		if src := attr(el, "src"); src != "" {
			resolved, err := resolvePath(src, p.includePaths)
			if err != nil {
				return nil, p.structuralf("<script src=%q>: %v", src, err)
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, p.structuralf("<script src=%q>: %v", src, err)
			}
			return &scxml.ScriptAction{Source: expr.NewSource(string(data))}, nil
		}
		return &scxml.ScriptAction{Source: expr.NewSource(strings.TrimSpace(string(el.TextContent())))}, nil
	case "if":
		return p.parseIf(el)
	case "foreach":
		array := attr(el, "array")
		item := attr(el, "item")
		if array == "" || item == "" {
			return nil, p.structuralf("<foreach> requires array and item attributes")
		}
		body, err := p.parseActions(childElements(el))
		if err != nil {
			return nil, err
		}
		return &scxml.ForEachAction{
			Array: expr.NewSource(array),
			Item:  item,
			Index: attr(el, "index"),
			Body:  body,
		}, nil
	case "send":
		return p.parseSend(el)
	case "cancel":
		return &scxml.CancelAction{
			SendID:     attr(el, "sendid"),
			SendIDExpr: source(el, "sendidexpr"),
		}, nil
	}
	// Foreign-namespace elements are ignored, matching a conformant
	// processor's handling of unknown executable content.
	return nil, nil
}

// parseIf builds the nested IfAction chain from <if>/<elseif>/<else>
// segments.
func (p *parser) parseIf(el xmldom.Element) (scxml.Action, error) {
	cond := attr(el, "cond")
	if cond == "" {
		return nil, p.structuralf("<if> requires a cond attribute")
	}
	type segment struct {
		cond    string
		actions []xmldom.Element
	}
	segments := []segment{{cond: cond}}
	for _, child := range childElements(el) {
		switch string(child.LocalName()) {
		case "elseif":
			c := attr(child, "cond")
			if c == "" {
				return nil, p.structuralf("<elseif> requires a cond attribute")
			}
			segments = append(segments, segment{cond: c})
		case "else":
			segments = append(segments, segment{cond: ""})
		default:
			segments[len(segments)-1].actions = append(segments[len(segments)-1].actions, child)
		}
	}

	// Build from the tail: each elseif becomes the If in the previous
	// else slot.
	var elseContent scxml.ContentID
	for i := len(segments) - 1; i >= 1; i-- {
		seg := segments[i]
		block, err := p.parseActions(seg.actions)
		if err != nil {
			return nil, err
		}
		if seg.cond == "" {
			elseContent = block
			continue
		}
		nested := &scxml.IfAction{Cond: expr.NewSource(seg.cond), Then: block, Else: elseContent}
		elseContent = p.fsm.AddContent([]scxml.Action{nested})
	}
	then, err := p.parseActions(segments[0].actions)
	if err != nil {
		return nil, err
	}
	return &scxml.IfAction{Cond: expr.NewSource(segments[0].cond), Then: then, Else: elseContent}, nil
}

func (p *parser) parseSend(el xmldom.Element) (scxml.Action, error) {
	a := &scxml.SendAction{
		Event:      attr(el, "event"),
		EventExpr:  source(el, "eventexpr"),
		Target:     attr(el, "target"),
		TargetExpr: source(el, "targetexpr"),
		TypeName:   attr(el, "type"),
		TypeExpr:   source(el, "typeexpr"),
		SendID:     attr(el, "id"),
		IDLocation: attr(el, "idlocation"),
		Delay:      attr(el, "delay"),
		DelayExpr:  source(el, "delayexpr"),
	}
	if a.Event == "" && a.EventExpr.Empty() {
		return nil, p.structuralf("<send> requires event or eventexpr")
	}
	if nl := attr(el, "namelist"); nl != "" {
		a.Namelist = strings.Fields(nl)
	}
	for _, child := range childElements(el) {
		switch string(child.LocalName()) {
		case "param":
			a.Params = append(a.Params, parseParam(child))
		case "content":
			a.Content = &scxml.CommonContent{
				Expr:    source(child, "expr"),
				Content: strings.TrimSpace(string(child.TextContent())),
			}
		}
	}
	return a, nil
}

func (p *parser) resolveTransitions() error {
	for _, pt := range p.transitions {
		el := pt.el
		t := scxml.Transition{Source: pt.source}

		if events := attr(el, "event"); events != "" {
			for _, d := range strings.Fields(events) {
				normalized := scxml.NormalizeEventDescriptor(d)
				if normalized == "*" {
					t.Wildcard = true
					continue
				}
				t.Events = append(t.Events, normalized)
			}
		}
		if pt.initial && (t.Wildcard || len(t.Events) > 0) {
			return p.structuralf("initial transition of '%s' cannot declare events", p.fsm.State(pt.source).Name)
		}
		t.Cond = source(el, "cond")
		if attr(el, "type") == "internal" {
			t.TType = scxml.TransitionInternal
		}
		if targets := attr(el, "target"); targets != "" {
			for _, name := range strings.Fields(targets) {
				id, ok := p.fsm.StateByName(name)
				if !ok {
					return p.structuralf("transition of '%s' targets unknown state '%s'", p.fsm.State(pt.source).Name, name)
				}
				t.Targets = append(t.Targets, id)
			}
		}
		if pt.initial && len(t.Targets) == 0 {
			return p.structuralf("initial transition of '%s' requires a target", p.fsm.State(pt.source).Name)
		}

		if actions := childElements(el); len(actions) > 0 {
			block, err := p.parseActions(actions)
			if err != nil {
				return err
			}
			t.Content = block
		}

		id := p.fsm.AddTransition(t)
		src := p.fsm.State(pt.source)
		switch {
		case src.History != scxml.HistoryNone:
			// The transition child of <history> is its default transition.
			src.InitialTransition = id
		case pt.initial:
			src.InitialTransition = id
		default:
			src.Transitions = append(src.Transitions, id)
		}
	}
	return nil
}

func (p *parser) resolveInitialAttrs() error {
	resolve := func(state scxml.StateID, names []string) error {
		var targets []scxml.StateID
		for _, name := range names {
			id, ok := p.fsm.StateByName(name)
			if !ok {
				return p.structuralf("initial of '%s' targets unknown state '%s'", p.fsm.State(state).Name, name)
			}
			targets = append(targets, id)
		}
		id := p.fsm.AddTransition(scxml.Transition{Source: state, Targets: targets})
		p.fsm.State(state).InitialTransition = id
		return nil
	}

	if len(p.rootInitial) > 0 {
		if err := resolve(p.fsm.Root, p.rootInitial); err != nil {
			return err
		}
	}
	for _, ia := range p.initialAttrs {
		if p.fsm.State(ia.state).InitialTransition != 0 {
			return p.structuralf("state '%s' declares both an initial attribute and an <initial> element", p.fsm.State(ia.state).Name)
		}
		if err := resolve(ia.state, ia.targets); err != nil {
			return err
		}
	}
	return nil
}

// synthesizeInitialTransitions gives every compound state without an
// authored initial transition one targeting its first child in document
// order. History pseudo-states without a default transition get their
// parent's first child as fallback target.
func (p *parser) synthesizeInitialTransitions() error {
	for i := range p.fsm.States {
		st := &p.fsm.States[i]
		if st.History != scxml.HistoryNone {
			if st.InitialTransition == 0 {
				if siblings := p.fsm.State(st.Parent).Children; len(siblings) > 0 {
					id := p.fsm.AddTransition(scxml.Transition{Source: st.ID, Targets: []scxml.StateID{siblings[0]}})
					p.fsm.State(st.ID).InitialTransition = id
				}
			}
			continue
		}
		if st.InitialTransition != 0 || len(st.Children) == 0 || st.IsParallel {
			continue
		}
		id := p.fsm.AddTransition(scxml.Transition{Source: st.ID, Targets: []scxml.StateID{st.Children[0]}})
		p.fsm.State(st.ID).InitialTransition = id
	}
	p.fsm.InitialTransition = p.fsm.State(p.fsm.Root).InitialTransition
	return nil
}

func (p *parser) validate() error {
	for i := range p.fsm.States {
		st := &p.fsm.States[i]
		if st.History != scxml.HistoryNone {
			parent := p.fsm.State(st.Parent)
			if len(parent.Children) == 0 {
				return p.structuralf("history '%s' requires a compound parent", st.Name)
			}
			continue
		}
		if st.IsParallel && len(st.Children) < 1 {
			return p.structuralf("parallel '%s' has no child states", st.Name)
		}
	}
	if p.fsm.InitialTransition == 0 {
		return p.structuralf("document has no states")
	}
	return nil
}
