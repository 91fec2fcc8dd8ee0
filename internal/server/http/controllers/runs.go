package controllers

import (
	"errors"
	"net/http"

	"github.com/runbeam/runbeam/internal/runtime"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// RunsController exposes the run read path: the SSE subscription stream, the
// state snapshot, and the conversation → active generation lookup. The write
// path stays in-process; producers call the service directly.
type RunsController struct {
	rt     *runtime.Runtime
	svc    *runsvc.Service
	logger logpkg.Logger
}

// NewRunsController creates a controller bound to the runs service.
func NewRunsController(rt *runtime.Runtime, svc *runsvc.Service, logger logpkg.Logger) *RunsController {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	return &RunsController{rt: rt, svc: svc, logger: logger.WithComponent("http.runs")}
}

// RegisterRoutes registers the run endpoints with the given mux.
func (c *RunsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/runs/subscribe", c.handleSubscribe)
	mux.HandleFunc("/v1/runs/state", c.handleState)
	mux.HandleFunc("/v1/conversations/active", c.handleActive)
}

func (c *RunsController) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	st, err := c.svc.GetRunState(r.Context(), runID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	if st.UserID != principal(r) {
		writeError(w, http.StatusForbidden, "not the run owner")
		return
	}
	writeJSON(w, st)
}

func (c *RunsController) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	info, err := c.svc.ActiveGenerationInfoForConversation(r.Context(), convID)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, info)
}

func (c *RunsController) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	user := principal(r)
	if err := c.svc.Authorize(r.Context(), runID, user); err != nil {
		writeRunError(w, err)
		return
	}

	cfg := c.rt.Config()
	sink := newSSESink(w, r, cfg.SSERetry(), cfg.KeepAlive())
	defer sink.Close()

	// Snapshot frame first; a run not opened yet streams from empty.
	if st, err := c.svc.GetRunState(r.Context(), runID); err == nil {
		if err := sink.SendInit(st); err != nil {
			return
		}
	}

	opts := runsvc.SubscribeOptions{
		CatchUp:  true,
		AfterSeq: lastEventID(r),
		Filter:   r.URL.Query().Get("filter"),
	}
	err := c.svc.Subscribe(r.Context(), runID, opts, sink)
	switch {
	case err == nil:
	case errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		// client went away; nothing to write
	default:
		c.logger.Warn("subscribe stream ended with error",
			logpkg.Str("run_id", runID), logpkg.Err(err))
	}
}

// writeRunError maps service sentinel errors onto HTTP statuses.
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runsvc.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, runsvc.ErrForbidden):
		writeError(w, http.StatusForbidden, "not the run owner")
	case errors.Is(err, runsvc.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "run already exists")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
