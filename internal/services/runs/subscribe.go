package runsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/runbeam/runbeam/internal/eventlog"
	"github.com/runbeam/runbeam/internal/runstate"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// Subscribe delivers a run's events to the sink as a single ordered sequence:
// stored events from the watermark first, then live events as they are
// appended, until a terminal event, a failed liveness check on idle timeout,
// or cancellation. The loop never buffers live events separately — after each
// drained batch it re-reads from watermark+1, so the replay/live boundary
// cannot duplicate or drop a sequence.
//
// Store failures mid-stream are converted into one synthetic terminal error
// event so the client always sees a well-formed end of stream.
func (s *Service) Subscribe(ctx context.Context, runID string, opts SubscribeOptions, sink Sink) error {
	logger := s.logger.With(logpkg.Str("run_id", runID))

	filter, err := newEventFilter(opts.Filter)
	if err != nil {
		return err
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = s.rt.Config().IdleTimeout()
	}
	terminal := opts.TerminalTypes
	if terminal == nil {
		terminal = runstate.TerminalTypes()
	}
	isAlive := opts.IsAlive
	if isAlive == nil {
		isAlive = func(ctx context.Context) bool {
			st, err := s.loadState(runID)
			if err != nil {
				// Unknown run: keep waiting for the producer to open it.
				return true
			}
			return st.Alive()
		}
	}
	batch := s.rt.Config().SubscribeBatch

	l, err := s.rt.OpenLog(runID)
	if err != nil {
		logger.Warn("subscribe: open log failed", logpkg.Err(err))
		return s.sendSyntheticError(sink, "event store unavailable")
	}

	watermark := opts.AfterSeq
	if !opts.CatchUp {
		// Live tail only: skip everything already stored.
		watermark = l.LastSeq()
	}

	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		// Grab the signal channel before reading so an append racing with the
		// read still wakes the select below.
		signal := l.AppendSignal()

		items, skipped, err := l.Read(eventlog.ReadOptions{AfterSeq: watermark, Limit: batch})
		if err != nil {
			logger.Warn("subscribe: read failed", logpkg.Err(err))
			return s.sendSyntheticError(sink, "event store unavailable")
		}
		if skipped > 0 {
			logger.Warn("subscribe: skipped malformed records", logpkg.Int("count", skipped))
		}

		for _, it := range items {
			watermark = it.Seq
			ts, typ, ok := eventlog.DecodeHeader(it.Header)
			if !ok {
				logger.Warn("subscribe: malformed header", logpkg.Uint64("seq", it.Seq))
				continue
			}
			_, isTerminal := terminal[typ]
			if filter.Eval(it.Seq, ts, typ, it.Payload) {
				ev := EventItem{Seq: it.Seq, TsMs: ts, Type: typ, Payload: json.RawMessage(it.Payload)}
				if err := sink.Send(ev); err != nil {
					return err
				}
			}
			// Termination is not subject to the filter.
			if isTerminal {
				return sink.Flush()
			}
		}
		if err := sink.Flush(); err != nil {
			return err
		}

		if len(items) == batch && batch > 0 {
			// Likely more stored events; keep draining before waiting.
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(idle)

		select {
		case <-signal:
			// New durable append; loop re-reads from watermark+1.
		case <-ctx.Done():
			return ctx.Err()
		case <-sink.Context().Done():
			return sink.Context().Err()
		case <-timer.C:
			if !isAlive(ctx) {
				logger.Debug("subscribe: idle and run not alive, ending",
					logpkg.Uint64("watermark", watermark))
				return nil
			}
			// Producer is just quiet; keep waiting.
		}
	}
}

// sendSyntheticError emits the terminal error frame used when the store
// itself fails. It carries no sequence so it never advances a replay cursor.
func (s *Service) sendSyntheticError(sink Sink, msg string) error {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	ev := EventItem{
		TsMs:      nowMs(),
		Type:      runstate.EventRunError,
		Payload:   payload,
		Synthetic: true,
	}
	if err := sink.Send(ev); err != nil {
		return err
	}
	return sink.Flush()
}
