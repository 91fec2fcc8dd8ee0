package runstate

import (
	"encoding/json"
	"fmt"
)

// Status is a run's lifecycle phase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Output accumulates what a run has produced so far. All fields are
// append-only under the fold, except that run-complete may replace Content
// with a final value.
type Output struct {
	Content    string            `json:"content,omitempty"`
	Thinking   string            `json:"thinking,omitempty"`
	Structured []json.RawMessage `json:"structured,omitempty"`
}

// RunState is the snapshot derived by folding a run's event log from empty.
// It is cached under run/state/{runId} so readers need not replay the log.
type RunState struct {
	RunID          string `json:"run_id"`
	UserID         string `json:"user_id"`
	GraphID        string `json:"graph_id,omitempty"`
	GraphName      string `json:"graph_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	Status        Status `json:"status"`
	StartedAtMs   int64  `json:"started_at_ms"`
	CompletedAtMs int64  `json:"completed_at_ms,omitempty"`
	Output        Output `json:"output"`
	Error         string `json:"error,omitempty"`

	// LastSeq mirrors the log's highest folded sequence; LastEventAtMs is the
	// publish timestamp of that event, used for liveness and stall detection.
	LastSeq       uint64 `json:"last_seq"`
	LastEventAtMs int64  `json:"last_event_at_ms,omitempty"`

	// ExpiresAtMs is set on the terminal transition; the sweeper removes the
	// run once it passes.
	ExpiresAtMs int64 `json:"expires_at_ms,omitempty"`
}

// NewRunState returns the snapshot a freshly opened run starts from.
func NewRunState(runID, userID, graphID, graphName, conversationID string, nowMs int64) *RunState {
	return &RunState{
		RunID:          runID,
		UserID:         userID,
		GraphID:        graphID,
		GraphName:      graphName,
		ConversationID: conversationID,
		Status:         StatusPending,
		StartedAtMs:    nowMs,
	}
}

type contentPayload struct {
	Content string `json:"content"`
}

type thinkingPayload struct {
	Thinking string `json:"thinking"`
}

type statusPayload struct {
	Status Status `json:"status"`
}

type completePayload struct {
	Output string `json:"output,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Fold applies one event to the snapshot. The same function serves the write
// path (incremental fold on publish) and full replay, so the snapshot is by
// construction a cached fold of the log. Folding any event into a terminal
// snapshot is an error except the terminal event itself, which is ignored so
// replay over an idempotent retry stays clean.
func (st *RunState) Fold(seq uint64, tsMs int64, eventType string, payload []byte) error {
	if st.Status.Terminal() {
		if IsTerminalType(eventType) {
			return nil
		}
		return fmt.Errorf("fold %s into terminal run %s", eventType, st.RunID)
	}

	switch eventType {
	case EventContentChunk:
		var p contentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("content-chunk payload: %w", err)
		}
		st.Output.Content += p.Content
		st.markRunning()

	case EventThinkingChunk:
		var p thinkingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("thinking-chunk payload: %w", err)
		}
		st.Output.Thinking += p.Thinking
		st.markRunning()

	case EventStatus:
		var p statusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("status payload: %w", err)
		}
		// Only the pending→running transition travels as a status event;
		// terminal transitions come from run-complete/run-error.
		if p.Status == StatusRunning {
			st.markRunning()
		}

	case EventRunComplete:
		var p completePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("run-complete payload: %w", err)
		}
		if p.Output != "" {
			st.Output.Content = p.Output
		}
		st.Status = StatusCompleted
		st.CompletedAtMs = tsMs

	case EventRunError:
		var p errorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("run-error payload: %w", err)
		}
		st.Error = p.Error
		st.Status = StatusError
		st.CompletedAtMs = tsMs

	default:
		if isStructuredType(eventType) {
			st.Output.Structured = append(st.Output.Structured, append(json.RawMessage(nil), payload...))
			st.markRunning()
			break
		}
		// Unknown types still advance the watermark below; forward
		// compatibility with producers emitting new event kinds.
	}

	if seq > st.LastSeq {
		st.LastSeq = seq
	}
	if tsMs > st.LastEventAtMs {
		st.LastEventAtMs = tsMs
	}
	return nil
}

func (st *RunState) markRunning() {
	if st.Status == StatusPending {
		st.Status = StatusRunning
	}
}

// Alive reports whether the run should be treated as still producing. A
// terminal run is not alive; everything else is, the idle-timeout policy
// being to keep waiting on a silent but non-terminal run.
func (st *RunState) Alive() bool {
	return st != nil && !st.Status.Terminal()
}
