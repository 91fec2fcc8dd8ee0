package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/runbeam/runbeam/internal/config"
	"github.com/runbeam/runbeam/internal/eventlog"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

// Runtime owns the process-wide resources: the Pebble store, the service
// configuration, and a per-run cache of open event logs. The cache is what
// makes the producer and every subscriber of a run share one Log instance —
// and with it the append-notification channel — instead of opening a fresh
// handle per request.
type Runtime struct {
	db     *pebblestore.DB
	cfg    *config.Config
	logger logpkg.Logger

	mu   sync.Mutex
	logs map[string]*eventlog.Log

	closed bool
}

// Options configures a Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        *config.Config
	Logger        logpkg.Logger
}

// Open creates the Pebble store and an empty log cache.
func Open(opts Options) (*Runtime, error) {
	dir, err := config.EnsureDataDir(opts.DataDir)
	if err != nil {
		return nil, err
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval})
	if err != nil {
		return nil, err
	}
	return &Runtime{
		db:     db,
		cfg:    cfg,
		logger: logger.WithComponent("runtime"),
		logs:   map[string]*eventlog.Log{},
	}, nil
}

// DB exposes the underlying store for the service layer.
func (rt *Runtime) DB() *pebblestore.DB { return rt.db }

// Config returns the runtime configuration.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Logger returns the runtime's base logger.
func (rt *Runtime) Logger() logpkg.Logger { return rt.logger }

// OpenLog returns the shared Log for a run, opening it on first use.
func (rt *Runtime) OpenLog(runID string) (*eventlog.Log, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return nil, errors.New("runtime: closed")
	}
	if l, ok := rt.logs[runID]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(rt.db, runID)
	if err != nil {
		return nil, err
	}
	rt.logs[runID] = l
	return l, nil
}

// DropLog evicts a run's log from the cache. Called by the retention sweeper
// after purging the run's stored keys.
func (rt *Runtime) DropLog(runID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.logs, runID)
}

// CachedLogs reports how many run logs are currently open.
func (rt *Runtime) CachedLogs() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.logs)
}

// CheckHealth verifies the store answers a read.
func (rt *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := rt.db.Get([]byte("healthz"))
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	return nil
}

// Close releases the log cache and the store.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	rt.closed = true
	rt.logs = map[string]*eventlog.Log{}
	rt.mu.Unlock()
	return rt.db.Close()
}
