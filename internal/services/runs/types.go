package runsvc

import (
	"context"
	"encoding/json"
	"time"
)

// EventItem is one delivered event. Synthetic items (the store-failure error
// frame) carry no sequence and must not advance the client's replay cursor.
type EventItem struct {
	Seq       uint64          `json:"seq,omitempty"`
	TsMs      int64           `json:"ts_ms"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Synthetic bool            `json:"-"`
}

// Sink is implemented by transports to receive a subscription's events.
type Sink interface {
	Send(EventItem) error
	Context() context.Context
	Flush() error
}

// SubscribeOptions controls one subscription's replay and termination.
type SubscribeOptions struct {
	// CatchUp replays stored events before tailing live ones. AfterSeq is the
	// subscriber's watermark: replay starts at AfterSeq+1 (zero means from
	// the beginning). With CatchUp false, delivery starts at the live tail.
	CatchUp  bool
	AfterSeq uint64

	// Filter is an optional CEL expression evaluated per event.
	Filter string

	// IdleTimeout bounds how long the subscriber waits with no event before
	// checking liveness. Zero uses the configured default.
	IdleTimeout time.Duration

	// TerminalTypes overrides which event types end the stream. Nil uses
	// run-complete/run-error.
	TerminalTypes map[string]struct{}

	// IsAlive overrides the liveness check run on idle timeout. Nil checks
	// the stored snapshot's status.
	IsAlive func(ctx context.Context) bool
}

// OpenRunOptions describes a run being opened by a producer.
type OpenRunOptions struct {
	// RunID may be empty; an id is generated and returned.
	RunID          string
	UserID         string
	GraphID        string
	GraphName      string
	ConversationID string
}

// ActiveGenerationInfo is the answer to "is anything generating for this
// conversation", shaped for the HTTP layer.
type ActiveGenerationInfo struct {
	Active bool   `json:"active"`
	Kind   string `json:"kind,omitempty"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}
