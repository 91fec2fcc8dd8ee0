package runstate

// Event type names carried in the record header. Producers emit these; the
// fold in state.go and the subscriber's terminal detection key off them.
const (
	EventInit          = "init"
	EventContentChunk  = "content-chunk"
	EventThinkingChunk = "thinking-chunk"
	EventStatus        = "status"
	EventToolStatus    = "tool-status"
	EventToolEvent     = "tool-event"
	EventNodeStart     = "node-start"
	EventNodeComplete  = "node-complete"
	EventRunComplete   = "run-complete"
	EventRunError      = "run-error"
)

// TerminalTypes holds the event types that permanently end a run's stream.
func TerminalTypes() map[string]struct{} {
	return map[string]struct{}{
		EventRunComplete: {},
		EventRunError:    {},
	}
}

// IsTerminalType reports whether typ ends a run.
func IsTerminalType(typ string) bool {
	return typ == EventRunComplete || typ == EventRunError
}

// structuredTypes are folded into output.structured verbatim.
func isStructuredType(typ string) bool {
	switch typ {
	case EventToolStatus, EventToolEvent, EventNodeStart, EventNodeComplete:
		return true
	}
	return false
}
