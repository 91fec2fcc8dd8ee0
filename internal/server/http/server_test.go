package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbeam/runbeam/internal/config"
	"github.com/runbeam/runbeam/internal/runstate"
	"github.com/runbeam/runbeam/internal/runtime"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
)

func newTestServer(t *testing.T) (*Server, *runsvc.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.IdleTimeoutMs = 100
	cfg.KeepAliveMs = 60_000
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	svc := runsvc.New(rt)
	return New(rt, svc, nil), svc
}

func doGet(t *testing.T, srv *Server, path, user string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedRun(t *testing.T, svc *runsvc.Service, runID, userID, convID string, chunks []string, terminal string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.OpenRun(ctx, runsvc.OpenRunOptions{RunID: runID, UserID: userID, ConversationID: convID})
	require.NoError(t, err)
	for _, c := range chunks {
		payload, _ := json.Marshal(map[string]string{"content": c})
		_, err := svc.Publish(ctx, runID, runstate.EventContentChunk, payload)
		require.NoError(t, err)
	}
	switch terminal {
	case "complete":
		require.NoError(t, svc.Complete(ctx, runID, ""))
	case "error":
		require.NoError(t, svc.Fail(ctx, runID, "boom"))
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGet(t, srv, "/v1/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStateEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"Hello", " world"}, "complete")

	rec := doGet(t, srv, "/v1/runs/state?run_id=r1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st runstate.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, runstate.StatusCompleted, st.Status)
	assert.Equal(t, "Hello world", st.Output.Content)

	assert.Equal(t, http.StatusForbidden, doGet(t, srv, "/v1/runs/state?run_id=r1", "u2", nil).Code)
	assert.Equal(t, http.StatusNotFound, doGet(t, srv, "/v1/runs/state?run_id=ghost", "u1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doGet(t, srv, "/v1/runs/state", "u1", nil).Code)
}

func TestActiveEndpoint(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "c1", nil, "")

	rec := doGet(t, srv, "/v1/conversations/active?conversation_id=c1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info runsvc.ActiveGenerationInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Active)
	assert.Equal(t, "r1", info.ID)
	assert.Equal(t, "generating", info.Status)

	rec = doGet(t, srv, "/v1/conversations/active?conversation_id=quiet", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.False(t, info.Active)
}

func TestSubscribeFraming(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"Hello", " world"}, "complete")

	rec := doGet(t, srv, "/v1/runs/subscribe?run_id=r1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	retryIdx := strings.Index(body, "retry: ")
	initIdx := strings.Index(body, "event: init\n")
	firstID := strings.Index(body, "id: 1\n")
	completeIdx := strings.Index(body, "event: complete\n")
	require.GreaterOrEqual(t, retryIdx, 0, "missing retry directive: %q", body)
	require.Greater(t, initIdx, retryIdx, "init frame must follow retry")
	require.Greater(t, firstID, initIdx, "first event must follow init")
	require.Greater(t, completeIdx, firstID, "terminal frame must come last")
	assert.Contains(t, body, "id: 3\nevent: complete\n")
	assert.Contains(t, body, `"Hello"`)
}

func TestSubscribeErrorRun(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"partial"}, "error")

	body := doGet(t, srv, "/v1/runs/subscribe?run_id=r1", "u1", nil).Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "boom")
	// Nothing after the terminal frame.
	tail := body[strings.Index(body, "event: error"):]
	assert.Equal(t, 1, strings.Count(tail, "data: "))
}

func TestSubscribeLastEventID(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"a", "b", "c"}, "complete")

	rec := doGet(t, srv, "/v1/runs/subscribe?run_id=r1", "u1", map[string]string{"Last-Event-ID": "2"})
	body := rec.Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.NotContains(t, body, "id: 2\n")
	assert.Contains(t, body, "id: 3\n")
	assert.Contains(t, body, "id: 4\nevent: complete\n")
	// The init snapshot still reflects full current state.
	assert.Contains(t, body, "event: init\n")
}

func TestSubscribeQueryFallbackResumption(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"a", "b"}, "complete")

	body := doGet(t, srv, "/v1/runs/subscribe?run_id=r1&last_event_id=1", "u1", nil).Body.String()
	assert.NotContains(t, body, "id: 1\n")
	assert.Contains(t, body, "id: 2\n")
}

func TestSubscribeForbidden(t *testing.T) {
	srv, svc := newTestServer(t)
	seedRun(t, svc, "r1", "u1", "", []string{"secret"}, "")

	rec := doGet(t, srv, "/v1/runs/subscribe?run_id=r1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestSubscribeFilterParam(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()
	seedRun(t, svc, "r1", "u1", "", []string{"keep"}, "")
	_, err := svc.Publish(ctx, "r1", runstate.EventToolEvent, []byte(`{"tool":"calc"}`))
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "r1", ""))

	path := `/v1/runs/subscribe?run_id=r1&filter=` + `type+%3D%3D+%22content-chunk%22`
	body := doGet(t, srv, path, "u1", nil).Body.String()
	assert.Contains(t, body, "keep")
	assert.NotContains(t, body, "calc")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/runs/state", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
