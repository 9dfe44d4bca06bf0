package badger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/logger"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/storagetest"
)

func TestBadgerStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		// Use in-memory mode for tests
		store, err := New(Config{InMemory: true})
		require.NoError(t, err)
		return store
	})
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC()

	// Write to first instance
	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)

		require.NoError(t, store.UpsertInstance(ctx, models.Instance{ID: "db-1", Kind: models.KindMongoDB, Active: true}))
		require.NoError(t, store.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: now, Connections: 42}))
		require.NoError(t, store.Close())
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: dir})
		require.NoError(t, err)
		defer store.Close()

		active, err := store.ListActiveInstances(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)

		results, err := store.QuerySamples(ctx, storage.SampleQuery{
			InstanceID: "db-1",
			Start:      now.Add(-1 * time.Hour),
			End:        now.Add(1 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(42), results[0].Connections)
	}
}

func TestBadgerStorage_ZeroStartScansWholeSeries(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: now}))
	require.NoError(t, store.UpsertRollups(ctx, []models.RollupRow{{InstanceID: "db-1", Bucket: now.Truncate(time.Minute), Metric: models.MetricMemoryMB}}))

	samples, err := store.QuerySamples(ctx, storage.SampleQuery{InstanceID: "db-1", End: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	rows, err := store.QueryRollups(ctx, storage.RollupQuery{InstanceID: "db-1", End: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: time.Now()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStorage_RunGCNoRewrite(t *testing.T) {
	store, err := New(Config{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	// Nothing to collect on a fresh database.
	assert.NoError(t, store.RunGC(0.5))
}

func TestKeys_SortByTime(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	a := sampleKey("db-1", t0)
	b := sampleKey("db-1", t0.Add(time.Second))

	assert.Equal(t, samplePrefix("db-1"), a[:9])
	assert.Less(t, string(a), string(b))
	assert.True(t, sampleKeyTime(b).Equal(t0.Add(time.Second)))

	r := rollupKey("db-1", t0, models.MetricConnections)
	assert.True(t, rollupKeyBucket(r).Equal(t0))
	assert.Less(t, string(r), string(seekLast(rollupPrefix("db-1"))))
}

func TestBadgerStorage_SlowQueryLogged(t *testing.T) {
	var buf bytes.Buffer
	store, err := New(Config{InMemory: true, SlowQuery: time.Nanosecond, Logger: logger.NewWithWriter(&buf, false)})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.WriteSample(ctx, models.Sample{InstanceID: "db-1", Timestamp: now}))

	_, err = store.QuerySamples(ctx, storage.SampleQuery{InstanceID: "db-1", Start: now.Add(-time.Minute), End: now.Add(time.Minute)})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"msg":"slow sample query"`)
	assert.Contains(t, buf.String(), `"instance_id":"db-1"`)
}
