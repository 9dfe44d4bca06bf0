package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

type rollupKey struct {
	instanceID string
	bucket     int64
	metric     string
}

// Storage keeps everything in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	mu sync.RWMutex

	instances map[string]models.Instance
	samples   map[string][]models.Sample // per instance, sorted by timestamp
	rollups   map[rollupKey]models.RollupRow
	rules     map[string]models.AlertRule
	events    []models.AlertEvent
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		instances: make(map[string]models.Instance),
		samples:   make(map[string][]models.Sample),
		rollups:   make(map[rollupKey]models.RollupRow),
		rules:     make(map[string]models.AlertRule),
	}
}

func (s *Storage) ListActiveInstances(ctx context.Context) ([]models.Instance, error) {
	return s.listInstances(true), nil
}

func (s *Storage) ListInstances(ctx context.Context) ([]models.Instance, error) {
	return s.listInstances(false), nil
}

func (s *Storage) listInstances(activeOnly bool) []models.Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if activeOnly && !inst.Active {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Storage) GetInstance(ctx context.Context, id string) (models.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return models.Instance{}, storage.ErrNotFound
	}
	return inst, nil
}

func (s *Storage) UpsertInstance(ctx context.Context, inst models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.ID] = inst
	return nil
}

// WriteSample inserts s keeping the per-instance slice in timestamp order.
func (s *Storage) WriteSample(ctx context.Context, sample models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.samples[sample.InstanceID]
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(sample.Timestamp)
	})
	series = append(series, models.Sample{})
	copy(series[i+1:], series[i:])
	series[i] = sample
	s.samples[sample.InstanceID] = series
	return nil
}

func (s *Storage) QuerySamples(ctx context.Context, req storage.SampleQuery) ([]models.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.Sample
	for _, sample := range s.samples[req.InstanceID] {
		if !req.Contains(sample.Timestamp) {
			continue
		}
		results = append(results, sample)

		// Limit check
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}
	return results, nil
}

func (s *Storage) DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, series := range s.samples {
		i := sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(before)
		})
		if i == 0 {
			continue
		}
		deleted += int64(i)
		if i == len(series) {
			delete(s.samples, id)
			continue
		}
		s.samples[id] = append([]models.Sample(nil), series[i:]...)
	}
	return deleted, nil
}

func (s *Storage) UpsertRollups(ctx context.Context, rows []models.RollupRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		s.rollups[rollupKey{row.InstanceID, row.Bucket.Unix(), row.Metric}] = row
	}
	return nil
}

func (s *Storage) LatestRollupBucket(ctx context.Context, instanceID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for k, row := range s.rollups {
		if k.instanceID != instanceID {
			continue
		}
		if !found || row.Bucket.After(latest) {
			latest = row.Bucket
			found = true
		}
	}
	return latest, found, nil
}

func (s *Storage) QueryRollups(ctx context.Context, req storage.RollupQuery) ([]models.RollupRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.RollupRow
	for _, row := range s.rollups {
		if req.Matches(row) {
			results = append(results, row)
		}
	}
	sortRollups(results)
	return results, nil
}

func (s *Storage) DeleteRollupsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, row := range s.rollups {
		if row.Bucket.Before(before) {
			delete(s.rollups, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Storage) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.filterRules(func(r models.AlertRule) bool { return r.Enabled }), nil
}

func (s *Storage) ListRulesForInstance(ctx context.Context, instanceID string) ([]models.AlertRule, error) {
	return s.filterRules(func(r models.AlertRule) bool {
		return instanceID == "" || r.AppliesTo(instanceID)
	}), nil
}

func (s *Storage) filterRules(keep func(models.AlertRule) bool) []models.AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Storage) SaveRule(ctx context.Context, rule models.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.ID] = rule
	return nil
}

func (s *Storage) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Storage) AppendEvent(ctx context.Context, ev models.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	return nil
}

func (s *Storage) LatestEvent(ctx context.Context, ruleID, instanceID string) (models.AlertEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest models.AlertEvent
	found := false
	for _, ev := range s.events {
		if ev.RuleID != ruleID || ev.InstanceID != instanceID {
			continue
		}
		// Ties keep the later append.
		if !found || !ev.CreatedAt.Before(latest.CreatedAt) {
			latest = ev
			found = true
		}
	}
	return latest, found, nil
}

func (s *Storage) ListEvents(ctx context.Context, filter storage.EventFilter) ([]models.AlertEvent, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.AlertEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.Matches(s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return filter.Page(matched), int64(len(matched)), nil
}

// Ping always succeeds for memory storage
func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		Backend:   "memory",
		Instances: uint64(len(s.instances)),
		Rollups:   uint64(len(s.rollups)),
		Rules:     uint64(len(s.rules)),
		Events:    uint64(len(s.events)),
	}

	for _, series := range s.samples {
		if len(series) == 0 {
			continue
		}
		stats.Samples += uint64(len(series))
		if stats.OldestSample.IsZero() || series[0].Timestamp.Before(stats.OldestSample) {
			stats.OldestSample = series[0].Timestamp
		}
		if last := series[len(series)-1].Timestamp; last.After(stats.NewestSample) {
			stats.NewestSample = last
		}
	}

	// Rough size estimate (each record ~200 bytes)
	stats.SizeBytes = (stats.Samples + stats.Rollups + stats.Events) * 200

	return stats, nil
}

func sortRollups(rows []models.RollupRow) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Bucket.Equal(rows[j].Bucket) {
			return rows[i].Bucket.Before(rows[j].Bucket)
		}
		return rows[i].Metric < rows[j].Metric
	})
}
