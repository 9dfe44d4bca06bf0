// Package storagetest is a conformance suite shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// base is whole-second so backends with millisecond precision round-trip exactly.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"Instances", testInstances},
		{"SamplesOrderedAndRanged", testSamplesOrderedAndRanged},
		{"SamplesIsolatedPerInstance", testSamplesIsolatedPerInstance},
		{"DeleteSamplesBefore", testDeleteSamplesBefore},
		{"RollupUpsertIsIdempotent", testRollupUpsert},
		{"LatestRollupBucket", testLatestRollupBucket},
		{"DeleteRollupsBefore", testDeleteRollupsBefore},
		{"Rules", testRules},
		{"LatestEvent", testLatestEvent},
		{"ListEventsFilterAndPage", testListEvents},
		{"Stats", testStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func sample(instanceID string, offset time.Duration, conns int64) models.Sample {
	return models.Sample{
		InstanceID:    instanceID,
		Timestamp:     base.Add(offset),
		Connections:   conns,
		OpCounters:    models.OpCounters{Query: conns * 10},
		OpsPerSec:     models.OpRates{Query: float64(conns)},
		MemResidentMB: 128,
	}
}

func testInstances(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.UpsertInstance(ctx, models.Instance{ID: "a", Name: "alpha", Kind: models.KindMongoDB, Active: true, CreatedAt: base, UpdatedAt: base}))
	require.NoError(t, s.UpsertInstance(ctx, models.Instance{ID: "b", Name: "beta", Kind: models.KindPostgres, Active: false, CreatedAt: base, UpdatedAt: base}))

	all, err := s.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].ID)

	// Upsert replaces.
	require.NoError(t, s.UpsertInstance(ctx, models.Instance{ID: "b", Name: "beta", Kind: models.KindPostgres, Active: true, CreatedAt: base, UpdatedAt: base}))
	active, err = s.ListActiveInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	got, err := s.GetInstance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.KindPostgres, got.Kind)

	_, err = s.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSamplesOrderedAndRanged(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	// Written out of order on purpose.
	for _, off := range []int{30, 0, 20, 10, 40} {
		require.NoError(t, s.WriteSample(ctx, sample("a", time.Duration(off)*time.Second, int64(off))))
	}

	got, err := s.QuerySamples(ctx, storage.SampleQuery{
		InstanceID: "a",
		Start:      base.Add(10 * time.Second),
		End:        base.Add(40 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, got, 3, "end is exclusive by default")
	assert.Equal(t, int64(10), got[0].Connections)
	assert.Equal(t, int64(20), got[1].Connections)
	assert.Equal(t, int64(30), got[2].Connections)

	got, err = s.QuerySamples(ctx, storage.SampleQuery{
		InstanceID: "a",
		Start:      base.Add(10 * time.Second),
		End:        base.Add(40 * time.Second),
		IncludeEnd: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, got[3].Timestamp.Equal(base.Add(40*time.Second)))

	got, err = s.QuerySamples(ctx, storage.SampleQuery{
		InstanceID: "a",
		Start:      base,
		End:        base.Add(time.Hour),
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].Connections)
}

func testSamplesIsolatedPerInstance(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.WriteSample(ctx, sample("a", 0, 1)))
	require.NoError(t, s.WriteSample(ctx, sample("b", 0, 2)))

	latency := 4.5
	withLatency := sample("b", time.Second, 3)
	withLatency.AvgQueryMs = &latency
	require.NoError(t, s.WriteSample(ctx, withLatency))

	got, err := s.QuerySamples(ctx, storage.SampleQuery{InstanceID: "b", Start: base, End: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].AvgQueryMs)
	require.NotNil(t, got[1].AvgQueryMs)
	assert.InDelta(t, 4.5, *got[1].AvgQueryMs, 1e-9)
	for _, smp := range got {
		assert.Equal(t, "b", smp.InstanceID)
	}
}

func testDeleteSamplesBefore(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteSample(ctx, sample("a", time.Duration(i)*time.Minute, int64(i))))
		require.NoError(t, s.WriteSample(ctx, sample("b", time.Duration(i)*time.Minute, int64(i))))
	}

	cutoff := base.Add(2 * time.Minute)
	n, err := s.DeleteSamplesBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	for _, id := range []string{"a", "b"} {
		got, err := s.QuerySamples(ctx, storage.SampleQuery{InstanceID: id, Start: base.Add(-time.Hour), End: base.Add(time.Hour)})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[0].Timestamp.Equal(cutoff), "sample at the cutoff is kept")
	}
}

func rollupRows(instanceID string, bucket time.Time, v float64) []models.RollupRow {
	rows := make([]models.RollupRow, 0, len(models.RollupMetrics))
	for _, m := range models.RollupMetrics {
		rows = append(rows, models.RollupRow{
			InstanceID: instanceID, Bucket: bucket, Metric: m,
			Avg: v, Count: 1, Min: v, Max: v, Sum: v,
		})
	}
	return rows
}

func testRollupUpsert(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base, 1)))
	require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base, 2)))

	got, err := s.QueryRollups(ctx, storage.RollupQuery{InstanceID: "a", Start: base, End: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 3, "rewriting a bucket must not duplicate rows")
	for _, row := range got {
		assert.Equal(t, 2.0, row.Avg)
	}

	got, err = s.QueryRollups(ctx, storage.RollupQuery{InstanceID: "a", Metric: models.MetricMemoryMB, Start: base, End: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.MetricMemoryMB, got[0].Metric)
}

func testLatestRollupBucket(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, ok, err := s.LatestRollupBucket(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, off := range []time.Duration{0, 10 * time.Minute, 5 * time.Minute} {
		require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base.Add(off), 1)))
	}
	require.NoError(t, s.UpsertRollups(ctx, rollupRows("b", base.Add(time.Hour), 1)))

	latest, ok, err := s.LatestRollupBucket(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(base.Add(10*time.Minute)), "got %v", latest)

	got, err := s.QueryRollups(ctx, storage.RollupQuery{InstanceID: "a", Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 9)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Bucket.Before(got[i-1].Bucket), "rows ordered by bucket")
	}
}

func testDeleteRollupsBefore(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base, 1)))
	require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base.Add(5*time.Minute), 1)))

	n, err := s.DeleteRollupsBefore(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	latest, ok, err := s.LatestRollupBucket(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(base.Add(5*time.Minute)))
}

func testRules(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	rules := []models.AlertRule{
		{ID: "global", Type: models.RuleHighConnections, Enabled: true, Threshold: 10},
		{ID: "scoped-a", Type: models.RuleHighConnections, Enabled: true, InstanceScope: "a"},
		{ID: "scoped-b", Type: models.RuleHighConnections, Enabled: true, InstanceScope: "b"},
		{ID: "disabled", Type: models.RuleHighConnections, Enabled: false},
	}
	for _, r := range rules {
		require.NoError(t, s.SaveRule(ctx, r))
	}

	enabled, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"global", "scoped-a", "scoped-b"}, ruleIDs(enabled))

	forA, err := s.ListRulesForInstance(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"global", "scoped-a", "disabled"}, ruleIDs(forA))

	all, err := s.ListRulesForInstance(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	require.NoError(t, s.DeleteRule(ctx, "scoped-b"))
	assert.ErrorIs(t, s.DeleteRule(ctx, "scoped-b"), storage.ErrNotFound)
}

func ruleIDs(rules []models.AlertRule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}

func event(id, ruleID, instanceID string, offset time.Duration, status models.AlertStatus) models.AlertEvent {
	et := models.EventTriggered
	if status == models.StatusOK {
		et = models.EventResolved
	}
	return models.AlertEvent{
		ID: id, RuleID: ruleID, InstanceID: instanceID,
		EventType: et, Status: status, Severity: models.SeverityWarning,
		CreatedAt: base.Add(offset),
		Meta:      map[string]any{"signalLabel": "max_connections"},
	}
}

func testLatestEvent(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, ok, err := s.LatestEvent(ctx, "r1", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AppendEvent(ctx, event("e1", "r1", "a", 0, models.StatusTriggered)))
	require.NoError(t, s.AppendEvent(ctx, event("e2", "r1", "a", 2*time.Minute, models.StatusOK)))
	require.NoError(t, s.AppendEvent(ctx, event("e3", "r1", "b", 5*time.Minute, models.StatusTriggered)))
	require.NoError(t, s.AppendEvent(ctx, event("e4", "r2", "a", 5*time.Minute, models.StatusTriggered)))

	ev, ok, err := s.LatestEvent(ctx, "r1", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e2", ev.ID)
	assert.Equal(t, models.StatusOK, ev.Status)
	assert.Equal(t, "max_connections", ev.Meta["signalLabel"])
}

func testListEvents(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	for i, id := range []string{"e0", "e1", "e2", "e3", "e4"} {
		status := models.StatusTriggered
		if i%2 == 1 {
			status = models.StatusOK
		}
		require.NoError(t, s.AppendEvent(ctx, event(id, "r1", "a", time.Duration(i)*time.Minute, status)))
	}
	require.NoError(t, s.AppendEvent(ctx, event("other", "r2", "b", 10*time.Minute, models.StatusTriggered)))

	items, total, err := s.ListEvents(ctx, storage.EventFilter{InstanceID: "a", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.Equal(t, "e4", items[0].ID, "newest first")
	assert.Equal(t, "e3", items[1].ID)

	items, total, err = s.ListEvents(ctx, storage.EventFilter{InstanceID: "a", Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 1)
	assert.Equal(t, "e0", items[0].ID)

	items, total, err = s.ListEvents(ctx, storage.EventFilter{Status: models.StatusOK, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"e3", "e1"}, eventIDs(items))

	items, _, err = s.ListEvents(ctx, storage.EventFilter{
		EventType: models.EventTriggered,
		Start:     base.Add(time.Minute),
		End:       base.Add(4 * time.Minute),
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e4", "e2"}, eventIDs(items), "time bounds are inclusive")

	items, total, err = s.ListEvents(ctx, storage.EventFilter{RuleID: "r2", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, []string{"other"}, eventIDs(items))
}

func eventIDs(events []models.AlertEvent) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func testStats(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.UpsertInstance(ctx, models.Instance{ID: "a", Active: true}))
	require.NoError(t, s.WriteSample(ctx, sample("a", 0, 1)))
	require.NoError(t, s.WriteSample(ctx, sample("a", time.Minute, 1)))
	require.NoError(t, s.UpsertRollups(ctx, rollupRows("a", base, 1)))
	require.NoError(t, s.SaveRule(ctx, models.AlertRule{ID: "r1"}))
	require.NoError(t, s.AppendEvent(ctx, event("e1", "r1", "a", 0, models.StatusTriggered)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.Backend)
	assert.Equal(t, uint64(1), stats.Instances)
	assert.Equal(t, uint64(2), stats.Samples)
	assert.Equal(t, uint64(3), stats.Rollups)
	assert.Equal(t, uint64(1), stats.Rules)
	assert.Equal(t, uint64(1), stats.Events)
}
