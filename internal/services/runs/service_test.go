package runsvc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbeam/runbeam/internal/config"
	"github.com/runbeam/runbeam/internal/eventlog"
	"github.com/runbeam/runbeam/internal/runstate"
	"github.com/runbeam/runbeam/internal/runtime"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
)

func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()
	cfg := config.Default()
	cfg.IdleTimeoutMs = 100
	if mutate != nil {
		mutate(cfg)
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt)
}

func openRun(t *testing.T, s *Service, runID, userID, convID string) string {
	t.Helper()
	id, err := s.OpenRun(context.Background(), OpenRunOptions{
		RunID:          runID,
		UserID:         userID,
		GraphID:        "g1",
		GraphName:      "Test Graph",
		ConversationID: convID,
	})
	require.NoError(t, err)
	return id
}

func publishChunk(t *testing.T, s *Service, runID, text string) uint64 {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"content": text})
	seq, err := s.Publish(context.Background(), runID, runstate.EventContentChunk, payload)
	require.NoError(t, err)
	return seq
}

func TestOpenRunIdempotentAndConflict(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	id := openRun(t, s, "r1", "u1", "")
	assert.Equal(t, "r1", id)

	// Same owner reopening is a no-op.
	again, err := s.OpenRun(ctx, OpenRunOptions{RunID: "r1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", again)

	// Different owner is rejected.
	_, err = s.OpenRun(ctx, OpenRunOptions{RunID: "r1", UserID: "u2"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Empty run id gets generated.
	gen, err := s.OpenRun(ctx, OpenRunOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.NotEmpty(t, gen)
	assert.NotEqual(t, "r1", gen)
}

func TestPublishFoldsSnapshot(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "c1")

	seq1 := publishChunk(t, s, "r1", "Hello")
	seq2 := publishChunk(t, s, "r1", " world")
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)

	st, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusRunning, st.Status)
	assert.Equal(t, "Hello world", st.Output.Content)
	assert.Equal(t, uint64(2), st.LastSeq)

	require.NoError(t, s.Complete(ctx, "r1", ""))
	st, err = s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusCompleted, st.Status)
	assert.NotZero(t, st.CompletedAtMs)
	assert.NotZero(t, st.ExpiresAtMs)
}

func TestPublishUnknownRun(t *testing.T) {
	s := newTestService(t, nil)
	_, err := s.Publish(context.Background(), "ghost", runstate.EventContentChunk, []byte(`{"content":"x"}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublishAfterTerminal(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "")
	require.NoError(t, s.Complete(ctx, "r1", ""))

	_, err := s.Publish(ctx, "r1", runstate.EventContentChunk, []byte(`{"content":"late"}`))
	assert.ErrorIs(t, err, ErrRunTerminal)
}

func TestCompleteFailIdempotent(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "")
	publishChunk(t, s, "r1", "x")

	require.NoError(t, s.Complete(ctx, "r1", ""))
	require.NoError(t, s.Complete(ctx, "r1", ""))
	require.NoError(t, s.Fail(ctx, "r1", "late failure"))

	st, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusCompleted, st.Status)
	assert.Empty(t, st.Error)

	// Exactly one terminal event in the log.
	l, err := s.rt.OpenLog("r1")
	require.NoError(t, err)
	items, _, err := l.Read(eventlog.ReadOptions{})
	require.NoError(t, err)
	terminals := 0
	for _, it := range items {
		_, typ, ok := eventlog.DecodeHeader(it.Header)
		require.True(t, ok)
		if runstate.IsTerminalType(typ) {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestPayloadTooLarge(t *testing.T) {
	s := newTestService(t, func(c *config.Config) { c.PayloadMaxBytes = 8 })
	openRun(t, s, "r1", "u1", "")
	_, err := s.Publish(context.Background(), "r1", runstate.EventContentChunk, []byte(`{"content":"way too big"}`))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

// Replaying the log from empty must reproduce the stored snapshot exactly.
func TestSnapshotIsFoldOfLog(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "c1")
	publishChunk(t, s, "r1", "Hello")
	_, err := s.Publish(ctx, "r1", runstate.EventThinkingChunk, []byte(`{"thinking":"..."}`))
	require.NoError(t, err)
	_, err = s.Publish(ctx, "r1", runstate.EventToolEvent, []byte(`{"tool":"calc"}`))
	require.NoError(t, err)
	publishChunk(t, s, "r1", " world")
	require.NoError(t, s.Complete(ctx, "r1", ""))

	stored, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)

	replayed := runstate.NewRunState(stored.RunID, stored.UserID, stored.GraphID, stored.GraphName, stored.ConversationID, stored.StartedAtMs)
	l, err := s.rt.OpenLog("r1")
	require.NoError(t, err)
	items, _, err := l.Read(eventlog.ReadOptions{})
	require.NoError(t, err)
	for _, it := range items {
		ts, typ, ok := eventlog.DecodeHeader(it.Header)
		require.True(t, ok)
		require.NoError(t, replayed.Fold(it.Seq, ts, typ, it.Payload))
	}
	replayed.ExpiresAtMs = stored.ExpiresAtMs
	assert.Equal(t, stored, replayed)
}

func TestAuthorize(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "")

	assert.NoError(t, s.Authorize(ctx, "r1", "u1"))
	assert.ErrorIs(t, s.Authorize(ctx, "r1", "u2"), ErrForbidden)
	// A run nobody opened yet is allowed-but-empty.
	assert.NoError(t, s.Authorize(ctx, "not-yet", "u2"))
}

func TestConversationLookup(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	// No pointer at all.
	gen, err := s.ActiveGenerationForConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, gen)

	openRun(t, s, "rA", "u1", "c1")
	gen, err = s.ActiveGenerationForConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, runstate.KindRun, gen.Kind())
	assert.Equal(t, "rA", gen.ID())
	assert.Equal(t, runstate.MessageGenerating, gen.GenerationStatus())
	assert.True(t, gen.Active())

	// A newer run overwrites the pointer.
	openRun(t, s, "rB", "u1", "c1")
	gen, err = s.ActiveGenerationForConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "rB", gen.ID())

	require.NoError(t, s.Complete(ctx, "rB", ""))
	info, err := s.ActiveGenerationInfoForConversation(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, info.Active)
	assert.Equal(t, "completed", info.Status)
}

func TestLegacyMessagePath(t *testing.T) {
	s := newTestService(t, nil)
	ctx := context.Background()

	msg := &runstate.MessageState{
		MessageID:      "m1",
		ConversationID: "c9",
		UserID:         "u1",
		Status:         runstate.MessageGenerating,
		Content:        "partial",
	}
	require.NoError(t, s.SetMessageState(ctx, msg))

	gen, err := s.ActiveGenerationForConversation(ctx, "c9")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, runstate.KindMessage, gen.Kind())
	assert.Equal(t, "m1", gen.ID())
	assert.True(t, gen.Active())

	msg.Status = runstate.MessageCompleted
	require.NoError(t, s.SetMessageState(ctx, msg))
	info, err := s.ActiveGenerationInfoForConversation(ctx, "c9")
	require.NoError(t, err)
	assert.False(t, info.Active)
	assert.Equal(t, "completed", info.Status)
}

func TestSweepExpiredRemovesRun(t *testing.T) {
	s := newTestService(t, func(c *config.Config) { c.CompletedRunTTLMs = 1 })
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "c1")
	publishChunk(t, s, "r1", "x")
	require.NoError(t, s.Complete(ctx, "r1", ""))

	time.Sleep(5 * time.Millisecond)
	removed, err := s.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetRunState(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	gen, err := s.ActiveGenerationForConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, gen)

	// Event log purged with the run.
	l, err := s.rt.OpenLog("r1")
	require.NoError(t, err)
	items, _, err := l.Read(eventlog.ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSweepLeavesLiveRuns(t *testing.T) {
	s := newTestService(t, func(c *config.Config) { c.CompletedRunTTLMs = 1 })
	ctx := context.Background()
	openRun(t, s, "live", "u1", "")
	publishChunk(t, s, "live", "x")

	removed, err := s.SweepExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, err = s.GetRunState(ctx, "live")
	assert.NoError(t, err)
}

func TestStallWatchdogFailsSilentRun(t *testing.T) {
	s := newTestService(t, func(c *config.Config) { c.StallFailAfterMs = 1 })
	ctx := context.Background()
	openRun(t, s, "r1", "u1", "")
	publishChunk(t, s, "r1", "x")

	time.Sleep(5 * time.Millisecond)
	_, err := s.SweepExpired(ctx, time.Now())
	require.NoError(t, err)

	st, err := s.GetRunState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusError, st.Status)
	assert.Equal(t, "producer stalled", st.Error)
}

func TestSweepExpiredMessage(t *testing.T) {
	s := newTestService(t, func(c *config.Config) { c.CompletedRunTTLMs = 1 })
	ctx := context.Background()
	msg := &runstate.MessageState{MessageID: "m1", ConversationID: "c1", UserID: "u1", Status: runstate.MessageCompleted}
	require.NoError(t, s.SetMessageState(ctx, msg))

	time.Sleep(5 * time.Millisecond)
	removed, err := s.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gen, err := s.ActiveGenerationForConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, gen)
}
