package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/scheduler"
	"github.com/nicktill/dbpulse/pkg/server/monitor"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/badger"
)

// Loop names as reported by the health endpoint.
const (
	LoopSampler = "sampler"
	LoopRollup  = "rollup"
	LoopAlerts  = "alerts"
)

// Workers are the tick functions of the background loops.
type Workers struct {
	Sample   scheduler.TickFunc
	Rollup   scheduler.TickFunc
	Evaluate scheduler.TickFunc
}

// BackgroundLoop pairs a loop with the monitor it reports to.
type BackgroundLoop struct {
	Loop    scheduler.Loop
	Monitor *monitor.LoopMonitor
}

// staleAfter is how long a loop may go without a successful tick before
// it is reported unhealthy.
func staleAfter(interval time.Duration) time.Duration {
	stale := 3 * interval
	if stale < time.Minute {
		stale = time.Minute
	}
	return stale
}

// BuildLoops creates the sampler, rollup and alert loops from the
// normalized configuration.
func BuildLoops(cfg *config.Config, w Workers, log *slog.Logger) []BackgroundLoop {
	specs := []struct {
		name     string
		interval time.Duration
		floor    time.Duration
		minSleep time.Duration
		tick     scheduler.TickFunc
	}{
		{LoopSampler, cfg.SamplingInterval, config.MinSamplingInterval, config.SamplerMinSleep, w.Sample},
		{LoopRollup, cfg.RollupInterval, config.MinRollupInterval, config.RollupMinSleep, w.Rollup},
		{LoopAlerts, cfg.AlertInterval, config.MinAlertInterval, config.AlertsMinSleep, w.Evaluate},
	}

	loops := make([]BackgroundLoop, 0, len(specs))
	for _, s := range specs {
		interval := scheduler.Normalize(s.interval, s.floor)
		lm := monitor.NewLoopMonitor(s.name, staleAfter(interval))
		loops = append(loops, BackgroundLoop{
			Monitor: lm,
			Loop: scheduler.Loop{
				Name:        s.name,
				Interval:    interval,
				MinSleep:    s.minSleep,
				TickTimeout: cfg.ShutdownTimeout,
				Tick:        s.tick,
				Logger:      log,
				Monitor:     lm,
			},
		})
	}
	return loops
}

// Monitors returns the loop monitors in loop order.
func Monitors(loops []BackgroundLoop) []*monitor.LoopMonitor {
	out := make([]*monitor.LoopMonitor, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.Monitor)
	}
	return out
}

// RunBadgerGC runs BadgerDB value-log garbage collection periodically to
// reclaim disk space. It returns immediately for other backends.
func RunBadgerGC(ctx context.Context, store storage.Storage, log *slog.Logger) {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		return
	}

	log = log.With("module", "badger_gc")
	log.Info("BadgerDB GC scheduler started", "interval", config.BadgerGCInterval.String())

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping BadgerDB GC scheduler")
			return
		case <-ticker.C:
			start := time.Now()
			if err := badgerStore.RunGC(config.BadgerGCDiscardRatio); err != nil {
				log.Warn("BadgerDB GC failed", "error", err)
				continue
			}
			log.Debug("BadgerDB GC completed", "took", time.Since(start).Round(time.Millisecond).String())
		}
	}
}
