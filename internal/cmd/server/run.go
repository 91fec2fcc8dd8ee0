package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/runbeam/runbeam/internal/config"
	"github.com/runbeam/runbeam/internal/runtime"
	httpserver "github.com/runbeam/runbeam/internal/server/http"
	runsvc "github.com/runbeam/runbeam/internal/services/runs"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
	logpkg "github.com/runbeam/runbeam/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Options configures a server run.
type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        *cfgpkg.Config
}

// Run starts the HTTP server and the retention sweeper and blocks until ctx
// is cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	logCfg := &logpkg.Config{
		Level:  getenvDefault("RUNBEAM_LOG_LEVEL", "info"),
		Format: getenvDefault("RUNBEAM_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		procLogger = logpkg.NewLogger(
			logpkg.WithLevel(logpkg.InfoLevel),
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
		)
	}
	// Pebble logs through the standard library.
	logpkg.RedirectStdLog(procLogger)

	cfg := opts.Config
	if cfg == nil {
		cfg = cfgpkg.Default()
	}

	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        cfg,
		Logger:        procLogger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting runbeam server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", storeDir),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
		logpkg.Int64("completed_run_ttl_ms", cfg.CompletedRunTTLMs),
		logpkg.Int64("idle_timeout_ms", cfg.IdleTimeoutMs))

	svc := runsvc.NewWithLogger(rt, procLogger)
	hsrv := httpserver.New(rt, svc, procLogger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.RunSweeper(sctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server error", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Shut the server down before the runtime so in-flight subscriptions see
	// a closed connection, not a closed store.
	hsrv.Close()
	wg.Wait()
	return nil
}
