// Package sampler polls monitored instances and persists raw samples.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/target"
)

// Store is what the sampler reads and writes.
type Store interface {
	storage.Instances
	storage.Samples
}

// Clients hands out live connections per instance. *target.Cache satisfies it.
type Clients interface {
	Get(ctx context.Context, inst models.Instance) (target.Client, error)
	Evict(id string)
	IDs() []string
}

// Config controls sampling behaviour.
type Config struct {
	// Retention is how long raw samples are kept (0 = forever).
	Retention time.Duration

	// StatusTimeout bounds a single status query.
	StatusTimeout time.Duration
}

// Sampler takes one sample per active instance per tick.
type Sampler struct {
	store   Store
	clients Clients
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	prev map[string]prevSnapshot
}

// prevSnapshot is the last successful reading for an instance.
type prevSnapshot struct {
	at       time.Time
	counters models.OpCounters
	latency  *target.Latency
}

// New creates a sampler.
func New(store Store, clients Clients, cfg Config, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = config.DefaultStatusTimeout
	}
	return &Sampler{
		store:   store,
		clients: clients,
		cfg:     cfg,
		log:     log.With("module", "sampler"),
		now:     time.Now,
		prev:    make(map[string]prevSnapshot),
	}
}

// SetClock overrides the time source.
func (s *Sampler) SetClock(now func() time.Time) {
	s.now = now
}

// Tick samples every active instance, then prunes expired samples.
// Per-instance failures are logged and skipped; only a failure to list
// instances is returned.
func (s *Sampler) Tick(ctx context.Context) error {
	instances, err := s.store.ListActiveInstances(ctx)
	if err != nil {
		s.prune(ctx)
		return fmt.Errorf("failed to list active instances: %w", err)
	}

	s.evictInactive(instances)

	written := 0
	for _, inst := range instances {
		if err := s.sampleOne(ctx, inst); err != nil {
			s.log.Warn("sample failed",
				"instance_id", inst.ID,
				"kind", inst.Kind,
				"error", err)
			s.forget(inst.ID)
			continue
		}
		written++
	}

	s.log.Debug("sampling tick", "instances", len(instances), "written", written)
	s.prune(ctx)
	return nil
}

func (s *Sampler) sampleOne(ctx context.Context, inst models.Instance) error {
	client, err := s.clients.Get(ctx, inst)
	if err != nil {
		return err
	}

	statusCtx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
	snap, err := client.Status(statusCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("status query: %w", err)
	}

	at := snap.TakenAt
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	s.mu.Lock()
	prev, ok := s.prev[inst.ID]
	s.mu.Unlock()

	sample := models.Sample{
		InstanceID:    inst.ID,
		Timestamp:     at,
		Connections:   snap.Connections,
		OpCounters:    snap.OpCounters,
		MemResidentMB: snap.MemResidentMB,
	}
	if ok {
		sample.OpsPerSec = ComputeRates(prev.counters, snap.OpCounters, at.Sub(prev.at))
		if ms, ok := AvgQueryMs(snap.Latency, prev.latency); ok {
			sample.AvgQueryMs = &ms
		}
	}

	if err := s.store.WriteSample(ctx, sample); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}

	s.mu.Lock()
	s.prev[inst.ID] = prevSnapshot{at: at, counters: snap.OpCounters, latency: snap.Latency}
	s.mu.Unlock()
	return nil
}

// evictInactive drops rate state and client handles for instances that are
// no longer active.
func (s *Sampler) evictInactive(active []models.Instance) {
	keep := make(map[string]struct{}, len(active))
	for _, inst := range active {
		keep[inst.ID] = struct{}{}
	}

	s.mu.Lock()
	for id := range s.prev {
		if _, ok := keep[id]; !ok {
			delete(s.prev, id)
		}
	}
	s.mu.Unlock()

	for _, id := range s.clients.IDs() {
		if _, ok := keep[id]; !ok {
			s.clients.Evict(id)
			s.log.Info("released inactive instance", "instance_id", id)
		}
	}
}

func (s *Sampler) forget(id string) {
	s.mu.Lock()
	delete(s.prev, id)
	s.mu.Unlock()
}

// Tracked reports how many instances currently have rate state.
func (s *Sampler) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prev)
}

func (s *Sampler) prune(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	deleted, err := s.store.DeleteSamplesBefore(ctx, s.now().UTC().Add(-s.cfg.Retention))
	if err != nil {
		s.log.Warn("sample retention prune failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("pruned expired samples", "deleted", deleted)
	}
}
