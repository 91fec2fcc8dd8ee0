package runstate

// MessageStatus is the status vocabulary of the older message-based producer.
type MessageStatus string

const (
	MessageGenerating MessageStatus = "generating"
	MessageCompleted  MessageStatus = "completed"
	MessageError      MessageStatus = "error"
)

// MessageState is the legacy generation record, keyed by message id instead
// of run id and carrying a flat content string.
type MessageState struct {
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	UserID         string        `json:"user_id"`
	Status         MessageStatus `json:"status"`
	Content        string        `json:"content,omitempty"`
	UpdatedAtMs    int64         `json:"updated_at_ms"`
	ExpiresAtMs    int64         `json:"expires_at_ms,omitempty"`
}

// Generation kind tags for the active-generation pointer.
const (
	KindRun     = "run"
	KindMessage = "message"
)

// ActiveGeneration is the unified view over the two producer paths: a
// run-backed generation and a legacy message-backed one. Callers asking "is
// anything generating for this conversation" never branch on the backing
// record.
type ActiveGeneration interface {
	// Kind is KindRun or KindMessage.
	Kind() string
	// ID is the run id or message id.
	ID() string
	// GenerationStatus is expressed in the message vocabulary:
	// generating|completed|error.
	GenerationStatus() MessageStatus
	// Active reports whether the generation is still in progress.
	Active() bool
}

// RunGeneration adapts a RunState to the ActiveGeneration view.
type RunGeneration struct{ State *RunState }

func (g RunGeneration) Kind() string { return KindRun }
func (g RunGeneration) ID() string   { return g.State.RunID }

func (g RunGeneration) GenerationStatus() MessageStatus {
	switch g.State.Status {
	case StatusCompleted:
		return MessageCompleted
	case StatusError:
		return MessageError
	default:
		// pending and running both surface as generating.
		return MessageGenerating
	}
}

func (g RunGeneration) Active() bool { return g.State.Alive() }

// MessageGeneration adapts a legacy MessageState to the ActiveGeneration view.
type MessageGeneration struct{ State *MessageState }

func (g MessageGeneration) Kind() string                    { return KindMessage }
func (g MessageGeneration) ID() string                      { return g.State.MessageID }
func (g MessageGeneration) GenerationStatus() MessageStatus { return g.State.Status }
func (g MessageGeneration) Active() bool {
	return g.State != nil && g.State.Status == MessageGenerating
}
