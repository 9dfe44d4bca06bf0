// Package scheduler runs a tick function on a fixed cadence until shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Monitor receives the outcome of every tick. *monitor.LoopMonitor satisfies it.
type Monitor interface {
	RecordSuccess(took time.Duration)
	RecordFailure(err error, took time.Duration)
}

// TickFunc performs one unit of loop work.
type TickFunc func(ctx context.Context) error

// Loop calls Tick every Interval. The sleep after a tick is
// max(MinSleep, Interval - elapsed), so a slow tick never causes a burst of
// catch-up ticks.
type Loop struct {
	Name     string
	Interval time.Duration
	MinSleep time.Duration

	// TickTimeout bounds a single tick (0 = unbounded). A tick keeps running
	// after the loop's context is cancelled, up to this deadline.
	TickTimeout time.Duration

	Tick    TickFunc
	Logger  *slog.Logger
	Monitor Monitor
}

// Run blocks until ctx is cancelled. It never returns early because of a
// tick error or panic.
func (l Loop) Run(ctx context.Context) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("loop", l.Name)

	log.Info("loop started", "interval", l.Interval.String())
	defer log.Info("loop stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		err := l.runTick(ctx)
		took := time.Since(start)

		if err != nil {
			log.Error("tick failed", "error", err, "took", took.String())
			if l.Monitor != nil {
				l.Monitor.RecordFailure(err, took)
			}
		} else {
			log.Debug("tick completed", "took", took.String())
			if l.Monitor != nil {
				l.Monitor.RecordSuccess(took)
			}
		}

		timer.Reset(NextSleep(l.Interval, l.MinSleep, took))
	}
}

// runTick isolates a tick from loop cancellation and converts panics to errors.
func (l Loop) runTick(ctx context.Context) (err error) {
	tickCtx := context.WithoutCancel(ctx)
	if l.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, l.TickTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s tick: %v\n%s", l.Name, r, debug.Stack())
		}
	}()

	return l.Tick(tickCtx)
}

// NextSleep returns max(minSleep, interval - elapsed).
func NextSleep(interval, minSleep, elapsed time.Duration) time.Duration {
	sleep := interval - elapsed
	if sleep < minSleep {
		sleep = minSleep
	}
	return sleep
}

// Normalize returns interval, or floor when interval is below it.
func Normalize(interval, floor time.Duration) time.Duration {
	if interval < floor {
		return floor
	}
	return interval
}
