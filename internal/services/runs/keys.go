package runsvc

// Keyspace owned by the service, alongside the eventlog's run/log/ keys:
//
// - run/state/{runId}      RunState snapshot JSON
// - conv/{conversationId}  active-generation pointer JSON (overwritten per run)
// - msg/{messageId}        legacy message state JSON

var (
	statePrefix = []byte("run/state/")
	convPrefix  = []byte("conv/")
	msgPrefix   = []byte("msg/")
)

// KeyRunState builds the snapshot key for a run.
func KeyRunState(runID string) []byte {
	return append(append([]byte{}, statePrefix...), runID...)
}

// KeyConversation builds the active-generation pointer key for a conversation.
func KeyConversation(conversationID string) []byte {
	return append(append([]byte{}, convPrefix...), conversationID...)
}

// KeyMessage builds the legacy message state key.
func KeyMessage(messageID string) []byte {
	return append(append([]byte{}, msgPrefix...), messageID...)
}

// prefixEnd returns the exclusive upper bound covering every key under prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	end[len(end)-1]++
	return end
}
