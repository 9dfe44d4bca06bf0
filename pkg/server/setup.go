package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nicktill/dbpulse/pkg/alerting"
	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/notify"
	"github.com/nicktill/dbpulse/pkg/retry"
	"github.com/nicktill/dbpulse/pkg/server/monitor"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/badger"
	"github.com/nicktill/dbpulse/pkg/storage/memory"
	"github.com/nicktill/dbpulse/pkg/storage/mongo"
)

// InitializeStorage opens the configured backend and waits for it to answer a
// ping, retrying with backoff. Exhausting the retries is the only fatal
// startup error.
func InitializeStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	var store storage.Storage

	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		store = memory.New()

	case config.BackendMongo:
		log.Info("initializing MongoDB storage", "uri", config.SanitizeURI(cfg.MongoURI), "database", cfg.MongoDB)
		m, err := mongo.New(ctx, mongo.Config{
			URI:       cfg.MongoURI,
			Database:  cfg.MongoDB,
			SampleTTL: cfg.Retention(),
			RollupTTL: cfg.RollupTTL,
		})
		if err != nil {
			return nil, err
		}
		store = m

	case config.BackendBadger:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Info("initializing BadgerDB storage with Snappy compression", "path", cfg.DataDir, "max_memory_mb", cfg.MaxMemoryMB)
		b, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
			SampleTTL:   cfg.Retention(),
			RollupTTL:   cfg.RollupTTL,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		store = b

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = log
	err := retry.WithExponentialBackoff(ctx, retryCfg, "store ping", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
		defer cancel()
		return store.Ping(pingCtx)
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	if m, ok := store.(*mongo.Storage); ok {
		if err := m.EnsureIndexes(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		log.Info("mongo indexes ensured")
	}

	log.Info("storage ready", "backend", cfg.StoreBackend)
	return store, nil
}

// InitializeDiskMonitor returns a usage monitor for stores that live on local
// disk, or nil.
func InitializeDiskMonitor(cfg *config.Config) *monitor.DiskMonitor {
	if cfg.StoreBackend != config.BackendBadger {
		return nil
	}
	return monitor.NewDiskMonitor(cfg.DataDir, cfg.MaxStorageGB*1024*1024*1024)
}

// InitializeNotifiers builds the alert event fan-out. The websocket hub is
// always present; NATS and Redis are enabled by their address settings and
// skipped with a warning when unavailable. The external publishers are also
// returned as health checks. The returned func closes them.
func InitializeNotifiers(ctx context.Context, cfg *config.Config, hub *notify.Hub, log *slog.Logger) ([]alerting.Notifier, []notify.Checker, func()) {
	notifiers := []alerting.Notifier{hub}
	var checks []notify.Checker
	var closers []func()

	if cfg.NatsURL != "" {
		p, err := notify.NewNATSPublisher(cfg.NatsURL, cfg.NatsSubject, log)
		if err != nil {
			log.Warn("NATS publisher disabled", "error", err)
		} else {
			notifiers = append(notifiers, p)
			checks = append(checks, p)
			closers = append(closers, p.Close)
		}
	}

	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
		p, err := notify.NewRedisPublisher(pingCtx, cfg.RedisAddr, cfg.RedisChannel, log)
		cancel()
		if err != nil {
			log.Warn("redis publisher disabled", "error", err)
		} else {
			notifiers = append(notifiers, p)
			checks = append(checks, p)
			closers = append(closers, func() { p.Close() })
		}
	}

	return notifiers, checks, func() {
		for _, c := range closers {
			c()
		}
	}
}
