package scxml

import (
	"context"
	"fmt"
	"regexp"

	"github.com/agentflare-ai/go-scxml/expr"
)

// inConditionRE matches the only condition the null data model supports,
// In('state-id').
var inConditionRE = regexp.MustCompile(`^\s*In\s*\(\s*'([^']*)'\s*\)\s*$`)

// NullDatamodel is the minimal data model of the recommendation: no
// variables, no expressions, conditions restricted to In('state').
type NullDatamodel struct {
	g   *GlobalData
	fsm *Fsm
}

// NewNullDatamodel creates a null data model over g.
func NewNullDatamodel(g *GlobalData) *NullDatamodel {
	return &NullDatamodel{g: g}
}

var _ Datamodel = (*NullDatamodel)(nil)

// Name implements Datamodel.
func (dm *NullDatamodel) Name() string { return NullDatamodelName }

// Global implements Datamodel.
func (dm *NullDatamodel) Global() *GlobalData { return dm.g }

// InitializeGlobals implements Datamodel; the null model has no system
// variables beyond In.
func (dm *NullDatamodel) InitializeGlobals(ctx context.Context, fsm *Fsm) {
	dm.fsm = fsm
}

// InitializeDataFrom implements Datamodel as a no-op.
func (dm *NullDatamodel) InitializeDataFrom(ctx context.Context, decls []DataDecl, bind bool) {}

// SetEvent implements Datamodel as a no-op.
func (dm *NullDatamodel) SetEvent(event *Event) {}

// Assign implements Datamodel; all assignment fails.
func (dm *NullDatamodel) Assign(ctx context.Context, location expr.Source, value expr.Data) error {
	dm.ErrorExecution(ctx, "assignment is not supported by the null datamodel")
	return fmt.Errorf("assignment is not supported by the null datamodel")
}

// GetByLocation implements Datamodel; every location is absent.
func (dm *NullDatamodel) GetByLocation(ctx context.Context, location string) (expr.Data, error) {
	return expr.None{}, nil
}

// Execute implements Datamodel as a no-op.
func (dm *NullDatamodel) Execute(ctx context.Context, source expr.Source) (expr.Data, error) {
	return expr.None{}, nil
}

// ExecuteCondition implements Datamodel, supporting exactly In('state').
func (dm *NullDatamodel) ExecuteCondition(ctx context.Context, source expr.Source) (bool, error) {
	m := inConditionRE.FindStringSubmatch(source.Code)
	if m == nil {
		return false, fmt.Errorf("the null datamodel supports only In('state') conditions, got %q", source.Code)
	}
	if dm.fsm == nil || dm.g.Configuration == nil {
		return false, nil
	}
	id, ok := dm.fsm.StateByName(m[1])
	if !ok {
		return false, nil
	}
	return dm.g.Configuration.IsMember(id), nil
}

// ExecuteForEach implements Datamodel; iteration is unsupported.
func (dm *NullDatamodel) ExecuteForEach(ctx context.Context, arraySource expr.Source, item, index string, body func() bool) error {
	return fmt.Errorf("foreach is not supported by the null datamodel")
}

// ErrorExecution implements Datamodel.
func (dm *NullDatamodel) ErrorExecution(ctx context.Context, msg string) {
	dm.g.EnqueueInternalError()
}

// ErrorCommunication implements Datamodel.
func (dm *NullDatamodel) ErrorCommunication(ctx context.Context, msg string) {
	dm.g.EnqueueInternal(ErrorCommunicationEvent(dm.g.CurrentEvent))
}
