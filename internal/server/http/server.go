package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/runbeam/runbeam/internal/runtime"
	"github.com/runbeam/runbeam/internal/server/http/controllers"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
	"github.com/runbeam/runbeam/pkg/id"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// Server is the HTTP/SSE surface: run subscriptions, state reads, the
// conversation lookup, and health.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// New builds the server around an existing runs service.
func New(rt *runtime.Runtime, svc *runsvc.Service, logger logpkg.Logger) *Server {
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, svc, logger).RegisterAllRoutes(mux)

	handler := cors(requestID(mux))
	return &Server{rt: rt, srv: &http.Server{Handler: handler}}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Last-Event-ID, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var requestIDs = id.NewGenerator()

// requestID tags every request with a sortable id, echoed in the response and
// available to handlers through the context for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := requestIDs.Next().String()
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), logpkg.RequestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
