package runsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runbeam/runbeam/internal/eventlog"
	"github.com/runbeam/runbeam/internal/runstate"
	"github.com/runbeam/runbeam/internal/runtime"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// Service owns the run write path (open/publish/complete/fail plus the legacy
// message path), the read path (subscribe, state, authorization), and the
// conversation index. All state lives in the runtime's Pebble store; the
// per-run event log is the source of truth and the snapshot its cached fold.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger

	// runMus serializes the fold-and-save step per run. Sequence assignment
	// itself is already atomic inside eventlog.Log.
	musMu  sync.Mutex
	runMus map[string]*sync.Mutex
}

// New returns a Service using a default logger.
func New(rt *runtime.Runtime) *Service {
	return NewWithLogger(rt, nil)
}

// NewWithLogger constructs the service with an injected logger.
func NewWithLogger(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &Service{
		rt:     rt,
		logger: logger.WithComponent("runs"),
		runMus: map[string]*sync.Mutex{},
	}
}

func (s *Service) runMu(runID string) *sync.Mutex {
	s.musMu.Lock()
	defer s.musMu.Unlock()
	mu, ok := s.runMus[runID]
	if !ok {
		mu = &sync.Mutex{}
		s.runMus[runID] = mu
	}
	return mu
}

func (s *Service) dropRunMu(runID string) {
	s.musMu.Lock()
	defer s.musMu.Unlock()
	delete(s.runMus, runID)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// loadState reads a run's snapshot. Missing and expired runs both map to
// ErrNotFound; other store failures wrap ErrStoreUnavailable.
func (s *Service) loadState(runID string) (*runstate.RunState, error) {
	raw, err := s.rt.DB().Get(KeyRunState(runID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var st runstate.RunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode run state %s: %w", runID, err)
	}
	if st.ExpiresAtMs > 0 && st.ExpiresAtMs <= nowMs() {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *Service) saveState(st *runstate.RunState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode run state %s: %w", st.RunID, err)
	}
	if err := s.rt.DB().Set(KeyRunState(st.RunID), raw); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// activePointer is the tagged conversation → generation mapping.
type activePointer struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (s *Service) setActivePointer(conversationID, kind, id string) error {
	if conversationID == "" {
		return nil
	}
	raw, _ := json.Marshal(activePointer{Kind: kind, ID: id})
	if err := s.rt.DB().Set(KeyConversation(conversationID), raw); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// OpenRun creates a run snapshot with status=pending and points the
// conversation index at it. Reopening an existing run with the same owner is
// an idempotent no-op; a different owner gets ErrAlreadyExists. An empty
// RunID is filled with a generated id, returned to the caller.
func (s *Service) OpenRun(ctx context.Context, opts OpenRunOptions) (string, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	mu := s.runMu(runID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.loadState(runID)
	switch {
	case err == nil:
		if st.UserID != opts.UserID {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, runID)
		}
		return runID, nil
	case errors.Is(err, ErrNotFound):
		// fresh run
	default:
		return "", err
	}

	st = runstate.NewRunState(runID, opts.UserID, opts.GraphID, opts.GraphName, opts.ConversationID, nowMs())
	if err := s.saveState(st); err != nil {
		return "", err
	}
	if err := s.setActivePointer(opts.ConversationID, runstate.KindRun, runID); err != nil {
		return "", err
	}
	s.logger.Info("run opened",
		logpkg.Str("run_id", runID),
		logpkg.Str("user_id", opts.UserID),
		logpkg.Str("graph", opts.GraphName))
	return runID, nil
}

// Publish appends one event to the run's log, folds it into the snapshot, and
// wakes live subscribers. The append commits durably before any subscriber is
// signaled, so a woken subscriber always finds the event on replay. Returns
// the assigned sequence.
func (s *Service) Publish(ctx context.Context, runID, eventType string, payload []byte) (uint64, error) {
	if max := s.rt.Config().PayloadMaxBytes; max > 0 && len(payload) > max {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	mu := s.runMu(runID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.loadState(runID)
	if err != nil {
		return 0, err
	}
	if st.Status.Terminal() {
		return 0, fmt.Errorf("%w: %s", ErrRunTerminal, runID)
	}
	return s.appendAndFold(ctx, st, eventType, payload)
}

// appendAndFold is the shared tail of Publish/Complete/Fail. Caller holds the
// run mutex and has verified the run is not terminal.
func (s *Service) appendAndFold(ctx context.Context, st *runstate.RunState, eventType string, payload []byte) (uint64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	l, err := s.rt.OpenLog(st.RunID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ts := nowMs()
	seqs, err := l.Append(ctx, []eventlog.AppendRecord{{
		Header:  eventlog.EncodeHeader(ts, eventType),
		Payload: payload,
	}})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	seq := seqs[0]

	if err := st.Fold(seq, ts, eventType, payload); err != nil {
		return seq, err
	}
	if st.Status.Terminal() {
		st.ExpiresAtMs = ts + s.rt.Config().CompletedRunTTLMs
	}
	if err := s.saveState(st); err != nil {
		return seq, err
	}
	return seq, nil
}

// Complete appends the terminal run-complete event. finalOutput, when
// non-empty, replaces the accumulated content. Completing an already terminal
// run is a no-op so producers may retry.
func (s *Service) Complete(ctx context.Context, runID, finalOutput string) error {
	payload := []byte("{}")
	if finalOutput != "" {
		payload, _ = json.Marshal(map[string]string{"output": finalOutput})
	}
	return s.terminate(ctx, runID, runstate.EventRunComplete, payload)
}

// Fail appends the terminal run-error event. Failing an already terminal run
// is a no-op.
func (s *Service) Fail(ctx context.Context, runID, errMsg string) error {
	payload, _ := json.Marshal(map[string]string{"error": errMsg})
	return s.terminate(ctx, runID, runstate.EventRunError, payload)
}

func (s *Service) terminate(ctx context.Context, runID, eventType string, payload []byte) error {
	mu := s.runMu(runID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.loadState(runID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}
	if _, err := s.appendAndFold(ctx, st, eventType, payload); err != nil {
		return err
	}
	s.logger.Info("run terminal",
		logpkg.Str("run_id", runID),
		logpkg.Str("event", eventType),
		logpkg.Uint64("last_seq", st.LastSeq))
	return nil
}

// GetRunState returns the current snapshot for a run.
func (s *Service) GetRunState(ctx context.Context, runID string) (*runstate.RunState, error) {
	return s.loadState(runID)
}

// SetMessageState writes a legacy message-based generation record and points
// the conversation index at it. Terminal statuses pick up the retention TTL.
func (s *Service) SetMessageState(ctx context.Context, msg *runstate.MessageState) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.UpdatedAtMs = nowMs()
	if msg.Status != runstate.MessageGenerating {
		msg.ExpiresAtMs = msg.UpdatedAtMs + s.rt.Config().CompletedRunTTLMs
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message state %s: %w", msg.MessageID, err)
	}
	if err := s.rt.DB().Set(KeyMessage(msg.MessageID), raw); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.setActivePointer(msg.ConversationID, runstate.KindMessage, msg.MessageID)
}

func (s *Service) loadMessage(messageID string) (*runstate.MessageState, error) {
	raw, err := s.rt.DB().Get(KeyMessage(messageID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var msg runstate.MessageState
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message state %s: %w", messageID, err)
	}
	if msg.ExpiresAtMs > 0 && msg.ExpiresAtMs <= nowMs() {
		return nil, ErrNotFound
	}
	return &msg, nil
}
