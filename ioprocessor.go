package scxml

import (
	"context"
)

// EventIOProcessor routes outgoing events to a destination identified by
// a target string and a type URI. Implementations are registered with the
// executor; every session receives its own copy of the set so processor
// shutdown does not race interpretation.
type EventIOProcessor interface {
	// Types lists the URIs and short aliases matched against <send type=...>.
	Types() []string

	// Location returns the string published for this processor in the
	// _ioprocessors system variable of the given session.
	Location(sessionID SessionID) string

	// Send routes ev to target on behalf of the session owning g. An
	// unresolved target enqueues error.communication on the sender's
	// internal queue and returns false.
	Send(ctx context.Context, g *GlobalData, target string, ev *Event) bool

	// Copy produces the per-session instance handed into global data.
	Copy() EventIOProcessor

	// Shutdown releases processor resources.
	Shutdown(ctx context.Context)
}
