package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/logger"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/memory"
	"github.com/nicktill/dbpulse/pkg/target"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTarget is a scripted database. Tests mutate snap/err between ticks.
type fakeTarget struct {
	snap   target.Snapshot
	err    error
	closed bool
}

func (f *fakeTarget) Status(ctx context.Context) (target.Snapshot, error) {
	if f.err != nil {
		return target.Snapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeTarget) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type harness struct {
	store   *memory.Storage
	targets map[string]*fakeTarget
	cache   *target.Cache
	sampler *Sampler
	now     time.Time
}

func newHarness(t *testing.T, retention time.Duration) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		targets: make(map[string]*fakeTarget),
		now:     t0,
	}
	h.cache = target.NewCache(func(ctx context.Context, desc models.Descriptor) (target.Client, error) {
		ft, ok := h.targets[desc.URI]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return ft, nil
	})
	h.sampler = New(h.store, h.cache, Config{Retention: retention, StatusTimeout: time.Second}, logger.Discard())
	h.sampler.SetClock(func() time.Time { return h.now })
	return h
}

func (h *harness) addInstance(t *testing.T, id string, active bool) *fakeTarget {
	t.Helper()
	ft := &fakeTarget{}
	h.targets["mongodb://"+id] = ft
	require.NoError(t, h.store.UpsertInstance(context.Background(), models.Instance{
		ID: id, Kind: models.KindMongoDB, URI: "mongodb://" + id, Active: active,
	}))
	return ft
}

func (h *harness) tickAt(t *testing.T, at time.Time) {
	t.Helper()
	h.now = at
	require.NoError(t, h.sampler.Tick(context.Background()))
}

func (h *harness) samples(t *testing.T, id string) []models.Sample {
	t.Helper()
	out, err := h.store.QuerySamples(context.Background(), storage.SampleQuery{
		InstanceID: id, Start: t0.Add(-24 * time.Hour), End: t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return out
}

func TestComputeRates(t *testing.T) {
	prev := models.OpCounters{Query: 100, Insert: 10, Update: 50, Delete: 7}

	tests := []struct {
		name    string
		cur     models.OpCounters
		elapsed time.Duration
		want    models.OpRates
	}{
		{
			name:    "delta over elapsed seconds",
			cur:     models.OpCounters{Query: 150, Insert: 30, Update: 50, Delete: 12},
			elapsed: 10 * time.Second,
			want:    models.OpRates{Query: 5, Insert: 2, Update: 0, Delete: 0.5},
		},
		{
			name:    "counter reset clamps to zero",
			cur:     models.OpCounters{Query: 3, Insert: 20},
			elapsed: 5 * time.Second,
			want:    models.OpRates{Insert: 2},
		},
		{
			name:    "zero elapsed",
			cur:     models.OpCounters{Query: 500},
			elapsed: 0,
			want:    models.OpRates{},
		},
		{
			name:    "clock went backwards",
			cur:     models.OpCounters{Query: 500},
			elapsed: -time.Second,
			want:    models.OpRates{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRates(prev, tt.cur, tt.elapsed))
		})
	}
}

func TestAvgQueryMs(t *testing.T) {
	ms, ok := AvgQueryMs(&target.Latency{TotalMicros: 31000, Ops: 40}, &target.Latency{TotalMicros: 1000, Ops: 10})
	require.True(t, ok)
	assert.InDelta(t, 1.0, ms, 1e-9)

	_, ok = AvgQueryMs(&target.Latency{TotalMicros: 5000, Ops: 10}, &target.Latency{TotalMicros: 1000, Ops: 10})
	assert.False(t, ok, "no operations ran")

	_, ok = AvgQueryMs(nil, &target.Latency{})
	assert.False(t, ok)
}

func TestSampler_FirstSampleHasZeroRates(t *testing.T) {
	h := newHarness(t, 0)
	ft := h.addInstance(t, "db-1", true)
	ft.snap = target.Snapshot{Connections: 12, MemResidentMB: 256, OpCounters: models.OpCounters{Query: 1000}}

	h.tickAt(t, t0)

	got := h.samples(t, "db-1")
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].Connections)
	assert.Equal(t, 256.0, got[0].MemResidentMB)
	assert.Equal(t, models.OpRates{}, got[0].OpsPerSec)
	assert.Nil(t, got[0].AvgQueryMs)
	assert.True(t, got[0].Timestamp.Equal(t0))
}

func TestSampler_RatesFromConsecutiveTicks(t *testing.T) {
	h := newHarness(t, 0)
	ft := h.addInstance(t, "db-1", true)

	ft.snap = target.Snapshot{
		OpCounters: models.OpCounters{Query: 100, Insert: 40},
		Latency:    &target.Latency{TotalMicros: 10000, Ops: 100},
	}
	h.tickAt(t, t0)

	ft.snap = target.Snapshot{
		OpCounters: models.OpCounters{Query: 150, Insert: 60},
		Latency:    &target.Latency{TotalMicros: 60000, Ops: 150},
	}
	h.tickAt(t, t0.Add(10*time.Second))

	got := h.samples(t, "db-1")
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, got[1].OpsPerSec.Query)
	assert.Equal(t, 2.0, got[1].OpsPerSec.Insert)
	assert.Equal(t, models.OpCounters{Query: 150, Insert: 60}, got[1].OpCounters)
	require.NotNil(t, got[1].AvgQueryMs)
	assert.InDelta(t, 1.0, *got[1].AvgQueryMs, 1e-9)
}

func TestSampler_FailureResetsRateState(t *testing.T) {
	h := newHarness(t, 0)
	ft := h.addInstance(t, "db-1", true)

	ft.snap = target.Snapshot{OpCounters: models.OpCounters{Query: 100}}
	h.tickAt(t, t0)
	assert.Equal(t, 1, h.sampler.Tracked())

	ft.err = errors.New("timeout")
	h.tickAt(t, t0.Add(5*time.Second))
	assert.Equal(t, 0, h.sampler.Tracked())

	ft.err = nil
	ft.snap = target.Snapshot{OpCounters: models.OpCounters{Query: 900}}
	h.tickAt(t, t0.Add(10*time.Second))

	got := h.samples(t, "db-1")
	require.Len(t, got, 2)
	assert.Equal(t, models.OpRates{}, got[1].OpsPerSec, "first sample after a gap has zero rates")
}

func TestSampler_OneBadInstanceDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, 0)
	h.addInstance(t, "good", true).snap = target.Snapshot{Connections: 3}
	h.addInstance(t, "down", true).err = errors.New("connection reset")
	require.NoError(t, h.store.UpsertInstance(context.Background(), models.Instance{
		ID: "unreachable", Kind: models.KindMongoDB, URI: "mongodb://nowhere", Active: true,
	}))

	h.tickAt(t, t0)

	assert.Len(t, h.samples(t, "good"), 1)
	assert.Empty(t, h.samples(t, "down"))
	assert.Empty(t, h.samples(t, "unreachable"))
}

func TestSampler_InactiveInstancesAreReleased(t *testing.T) {
	h := newHarness(t, 0)
	ft := h.addInstance(t, "db-1", true)
	h.tickAt(t, t0)
	require.Equal(t, []string{"db-1"}, h.cache.IDs())

	require.NoError(t, h.store.UpsertInstance(context.Background(), models.Instance{
		ID: "db-1", Kind: models.KindMongoDB, URI: "mongodb://db-1", Active: false,
	}))
	h.tickAt(t, t0.Add(5*time.Second))

	assert.Equal(t, 0, h.sampler.Tracked())
	assert.Empty(t, h.cache.IDs())
	assert.True(t, ft.closed)
	assert.Len(t, h.samples(t, "db-1"), 1)
}

func TestSampler_RetentionBoundary(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx := context.Background()
	now := t0.Add(2 * time.Hour)

	for _, ts := range []time.Time{
		now.Add(-time.Hour - time.Second), // expired
		now.Add(-time.Hour),               // exactly at the cutoff, kept
		now.Add(-time.Minute),
	} {
		require.NoError(t, h.store.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: ts}))
	}

	h.tickAt(t, now)

	got := h.samples(t, "db-1")
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(now.Add(-time.Hour)))
}

type failingDirectory struct {
	*memory.Storage
}

func (failingDirectory) ListActiveInstances(ctx context.Context) ([]models.Instance, error) {
	return nil, errors.New("directory unavailable")
}

func TestSampler_PrunesEvenWhenListingFails(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	require.NoError(t, mem.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: t0.Add(-48 * time.Hour)}))

	s := New(failingDirectory{mem}, target.NewCache(nil), Config{Retention: 24 * time.Hour}, logger.Discard())
	s.SetClock(func() time.Time { return t0 })

	err := s.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory unavailable")

	stats, err := mem.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Samples)
}
