package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/dbpulse/pkg/alerting"
	"github.com/nicktill/dbpulse/pkg/compaction"
	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/logger"
	"github.com/nicktill/dbpulse/pkg/notify"
	"github.com/nicktill/dbpulse/pkg/sampler"
	"github.com/nicktill/dbpulse/pkg/server"
	"github.com/nicktill/dbpulse/pkg/target"
)

const (
	// Server configuration
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	log.Info("starting dbpulse server", "version", server.Version)

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, target.Dial, nil); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped cleanly")
}

// run wires every component, serves until ctx is cancelled and then shuts
// down within cfg.ShutdownTimeout. If ready is non-nil it receives the
// listener address once the server accepts connections.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, dial target.Dialer, ready chan<- string) error {
	log.Info("configuration loaded",
		"store_backend", cfg.StoreBackend,
		"sampling_interval", cfg.SamplingInterval.String(),
		"retention_days", cfg.RetentionDays,
		"rollup_enabled", cfg.RollupEnabled,
		"rollup_bucket", cfg.RollupBucket.String(),
		"alert_interval", cfg.AlertInterval.String(),
		"alert_cooldown", cfg.AlertCooldown.String())

	store, err := server.InitializeStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	clients := target.NewCache(dial)
	hub := notify.NewHub(log)
	notifiers, sinks, closeNotifiers := server.InitializeNotifiers(ctx, cfg, hub, log)
	defer closeNotifiers()

	smp := sampler.New(store, clients, sampler.Config{
		Retention:     cfg.Retention(),
		StatusTimeout: cfg.StatusQueryTimeout,
	}, log)
	compactor := compaction.New(store, compaction.Config{
		Enabled: cfg.RollupEnabled,
		Bucket:  cfg.RollupBucket,
		TTL:     cfg.RollupTTL,
	}, log)
	engine := alerting.NewEngine(store, cfg.AlertCooldown, log, notifiers...)

	loops := server.BuildLoops(cfg, server.Workers{
		Sample:   smp.Tick,
		Rollup:   compactor.Tick,
		Evaluate: engine.Tick,
	}, log)

	api := server.NewAPI(store, cfg.StoreBackend, server.Monitors(loops), server.InitializeDiskMonitor(cfg), hub, log).
		WithSinks(sinks...)
	handler := server.SetupRoutes(mux.NewRouter(), api, cfg.Port)

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunBadgerGC(ctx, store, log)
	}()

	for _, l := range loops {
		wg.Add(1)
		go func(loop server.BackgroundLoop) {
			defer wg.Done()
			loop.Loop.Run(ctx)
		}(l)
	}

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = err
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}

	// Loops finish their in-flight tick; bounded by the shutdown timeout.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("background loops stopped")
	case <-shutdownCtx.Done():
		log.Warn("timed out waiting for background loops")
	}

	if err := clients.Close(shutdownCtx); err != nil {
		log.Warn("failed to close database connections", "error", err)
	}
	return runErr
}
