package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/runbeam/runbeam/internal/runstate"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
)

// sseSink implements runsvc.Sink over a Server-Sent Events response.
//
// Real events carry an "id:" line equal to their sequence so the browser's
// EventSource resumes with Last-Event-ID after a drop. Terminal events use
// the distinguished "complete"/"error" event names; synthetic error frames
// carry no id so they never advance the client's replay cursor. A background
// ticker writes comment keep-alives so intermediaries do not cut the idle
// connection; keep-alives carry no id either.
type sseSink struct {
	w http.ResponseWriter
	r *http.Request

	mu   sync.Mutex
	stop chan struct{}
	once sync.Once
}

func newSSESink(w http.ResponseWriter, r *http.Request, retry time.Duration, keepAlive time.Duration) *sseSink {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := &sseSink{w: w, r: r, stop: make(chan struct{})}
	if retry > 0 {
		s.writeFrame(fmt.Sprintf("retry: %d\n\n", retry.Milliseconds()))
	}
	if keepAlive > 0 {
		go s.keepAliveLoop(keepAlive)
	}
	return s
}

func (s *sseSink) keepAliveLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.r.Context().Done():
			return
		case <-t.C:
			s.writeFrame(": keep-alive\n\n")
			_ = s.Flush()
		}
	}
}

// Close stops the keep-alive loop. Safe to call more than once.
func (s *sseSink) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *sseSink) writeFrame(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write([]byte(frame))
}

// eventName maps terminal event types to the wire's distinguished names.
// Non-terminal events use the default (unnamed) SSE event.
func eventName(typ string) string {
	switch typ {
	case runstate.EventRunComplete:
		return "complete"
	case runstate.EventRunError:
		return "error"
	}
	return ""
}

// Send frames one event: optional "id:", optional "event:", then "data:".
func (s *sseSink) Send(it runsvc.EventItem) error {
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	var frame []byte
	if !it.Synthetic && it.Seq > 0 {
		frame = append(frame, "id: "...)
		frame = strconv.AppendUint(frame, it.Seq, 10)
		frame = append(frame, '\n')
	}
	if name := eventName(it.Type); name != "" {
		frame = append(frame, "event: "...)
		frame = append(frame, name...)
		frame = append(frame, '\n')
	}
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, "\n\n"...)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(frame)
	return err
}

// SendInit frames the snapshot as the initial "init" event, so clients need
// not fetch state separately before streaming. No id: the snapshot is not a
// log position.
func (s *sseSink) SendInit(st *runstate.RunState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.writeFrame("event: init\ndata: " + string(b) + "\n\n")
	return s.Flush()
}

// Context returns the request context for cancellation.
func (s *sseSink) Context() context.Context { return s.r.Context() }

// Flush pushes buffered frames to the client immediately.
func (s *sseSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
