package runsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/runbeam/runbeam/internal/runstate"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// SweepExpired removes terminal runs and legacy messages whose retention
// window has passed: the snapshot, the event log, and any conversation
// pointer still referencing them. When the stall window is configured, it
// also force-fails non-terminal runs whose producer has been silent past the
// window. Returns how many records were removed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	nowMs := now.UnixMilli()
	removed := 0

	stall := s.rt.Config().StallFailAfterMs

	runIDs, err := s.collectStateKeys()
	if err != nil {
		return 0, err
	}
	for _, runID := range runIDs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		st, err := s.loadStateRaw(runID)
		if err != nil {
			continue
		}
		switch {
		case st.ExpiresAtMs > 0 && st.ExpiresAtMs <= nowMs:
			if err := s.removeRun(ctx, st); err != nil {
				s.logger.Warn("sweep: remove run failed",
					logpkg.Str("run_id", runID), logpkg.Err(err))
				continue
			}
			removed++
		case stall > 0 && !st.Status.Terminal() && st.LastEventAtMs > 0 && nowMs-st.LastEventAtMs > stall:
			s.logger.Warn("sweep: producer stalled, failing run",
				logpkg.Str("run_id", runID),
				logpkg.Int64("silent_ms", nowMs-st.LastEventAtMs))
			if err := s.Fail(ctx, runID, "producer stalled"); err != nil {
				s.logger.Warn("sweep: stall fail failed",
					logpkg.Str("run_id", runID), logpkg.Err(err))
			}
		}
	}

	msgIDs, err := s.collectMessageKeys()
	if err != nil {
		return removed, err
	}
	for _, msgID := range msgIDs {
		raw, err := s.rt.DB().Get(KeyMessage(msgID))
		if err != nil {
			continue
		}
		var msg runstate.MessageState
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.ExpiresAtMs > 0 && msg.ExpiresAtMs <= nowMs {
			_ = s.dropPointerTo(msg.ConversationID, msgID)
			if err := s.rt.DB().Delete(KeyMessage(msgID)); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("sweep done", logpkg.Int("removed", removed))
	}
	return removed, nil
}

// loadStateRaw reads a snapshot without the expiry check, which the sweeper
// applies itself.
func (s *Service) loadStateRaw(runID string) (*runstate.RunState, error) {
	raw, err := s.rt.DB().Get(KeyRunState(runID))
	if err != nil {
		return nil, err
	}
	var st runstate.RunState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) removeRun(ctx context.Context, st *runstate.RunState) error {
	l, err := s.rt.OpenLog(st.RunID)
	if err != nil {
		return err
	}
	if err := l.Purge(ctx); err != nil {
		return err
	}
	if err := s.rt.DB().Delete(KeyRunState(st.RunID)); err != nil {
		return err
	}
	_ = s.dropPointerTo(st.ConversationID, st.RunID)
	s.rt.DropLog(st.RunID)
	s.dropRunMu(st.RunID)
	return nil
}

// dropPointerTo deletes the conversation pointer only when it still targets
// the removed record; a newer run keeps its pointer.
func (s *Service) dropPointerTo(conversationID, id string) error {
	if conversationID == "" {
		return nil
	}
	raw, err := s.rt.DB().Get(KeyConversation(conversationID))
	if err != nil {
		return nil
	}
	var ptr activePointer
	if err := json.Unmarshal(raw, &ptr); err != nil || ptr.ID != id {
		return nil
	}
	return s.rt.DB().Delete(KeyConversation(conversationID))
}

func (s *Service) collectStateKeys() ([]string, error) {
	return s.collectSuffixes(statePrefix)
}

func (s *Service) collectMessageKeys() ([]string, error) {
	return s.collectSuffixes(msgPrefix)
}

func (s *Service) collectSuffixes(prefix []byte) ([]string, error) {
	iter, err := s.rt.DB().NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for ok := iter.First(); ok; ok = iter.Next() {
		out = append(out, string(iter.Key()[len(prefix):]))
	}
	return out, iter.Error()
}

// RunSweeper loops SweepExpired on the configured interval until ctx is done.
// Intended to run as a goroutine from server start.
func (s *Service) RunSweeper(ctx context.Context) {
	interval := s.rt.Config().SweepInterval()
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.SweepExpired(ctx, now); err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", logpkg.Err(err))
			}
		}
	}
}
