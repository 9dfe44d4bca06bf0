package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/dbpulse/pkg/alerting"
	"github.com/nicktill/dbpulse/pkg/compaction"
	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/logger"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/sampler"
	"github.com/nicktill/dbpulse/pkg/server"
	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/badger"
	"github.com/nicktill/dbpulse/pkg/storage/memory"
	"github.com/nicktill/dbpulse/pkg/target"
)

// counterTarget reports opcounters that grow by step queries per call.
type counterTarget struct {
	queries int64
	step    int64
}

func (c *counterTarget) Status(ctx context.Context) (target.Snapshot, error) {
	c.queries += c.step
	return target.Snapshot{
		Connections:   7,
		MemResidentMB: 512,
		OpCounters:    models.OpCounters{Query: c.queries},
	}, nil
}

func (c *counterTarget) Close(ctx context.Context) error { return nil }

func fakeDialer(t *counterTarget) target.Dialer {
	return func(ctx context.Context, desc models.Descriptor) (target.Client, error) {
		return t, nil
	}
}

// runPipeline samples one instance every 10s for 3 minutes, then rolls up
// and evaluates a rule on the result.
func runPipeline(t *testing.T, store storage.Storage, start time.Time) time.Time {
	t.Helper()
	ctx := context.Background()

	if err := store.UpsertInstance(ctx, models.Instance{ID: "db-1", Kind: models.KindMongoDB, URI: "mongodb://db-1", Active: true}); err != nil {
		t.Fatalf("UpsertInstance failed: %v", err)
	}
	if err := store.SaveRule(ctx, models.AlertRule{
		ID: "busy", Name: "Busy", Type: models.RuleSlowOperationsRate, Enabled: true, Threshold: 5, WindowSec: 60,
	}); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	now := start
	clock := func() time.Time { return now }

	smp := sampler.New(store, target.NewCache(fakeDialer(&counterTarget{step: 100})), sampler.Config{Retention: 24 * time.Hour}, logger.Discard())
	smp.SetClock(clock)
	for i := 0; i < 18; i++ {
		if err := smp.Tick(ctx); err != nil {
			t.Fatalf("sampler tick failed: %v", err)
		}
		now = now.Add(10 * time.Second)
	}

	compactor := compaction.New(store, compaction.Config{Enabled: true, Bucket: time.Minute}, logger.Discard())
	compactor.SetClock(clock)
	if err := compactor.Tick(ctx); err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	engine := alerting.NewEngine(store, time.Minute, logger.Discard())
	engine.SetClock(clock)
	if err := engine.Tick(ctx); err != nil {
		t.Fatalf("alert evaluation failed: %v", err)
	}
	return now
}

// TestE2E_SampleRollupAlert drives every loop once and reads the results back over HTTP.
func TestE2E_SampleRollupAlert(t *testing.T) {
	store := memory.New()
	defer store.Close()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	runPipeline(t, store, start)

	router := server.SetupRoutes(mux.NewRouter(), server.NewAPI(store, "memory", nil, nil, nil, logger.Discard()), "8080")

	// Rollups: three complete minutes, 6 samples each, ops settle at 10/s
	req := httptest.NewRequest("GET", "/v1/instances/db-1/rollups?metric=operations_per_sec&start=2024-03-01T11:00:00Z&end=2024-03-01T13:00:00Z", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Rollups failed with status %d: %s", w.Code, w.Body.String())
	}

	var rows []models.RollupRow
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatalf("decode rollups: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rollup rows, got %d", len(rows))
	}
	if rows[1].Count != 6 || rows[1].Avg != 10 {
		t.Errorf("Expected second bucket count=6 avg=10, got count=%d avg=%v", rows[1].Count, rows[1].Avg)
	}
	if rows[0].Min != 0 {
		t.Errorf("Expected first sample rate 0 to be the bucket minimum, got %v", rows[0].Min)
	}

	// Events: 10 ops/s over threshold 5 fires once
	req = httptest.NewRequest("GET", "/v1/alerts/events?instanceId=db-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Events failed with status %d: %s", w.Code, w.Body.String())
	}

	var events server.EventsResponse
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if events.Total != 1 {
		t.Fatalf("Expected 1 alert event, got %d", events.Total)
	}
	if got := events.Items[0].Title; got != "Triggered: Busy (db-1)" {
		t.Errorf("Unexpected title %q", got)
	}
}

// TestE2E_CompactionWithBadger runs the same pipeline against BadgerDB.
func TestE2E_CompactionWithBadger(t *testing.T) {
	store, err := badger.New(badger.Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	runPipeline(t, store, start)

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Samples != 18 {
		t.Errorf("Expected 18 samples, got %d", stats.Samples)
	}
	// 3 complete buckets x 3 metrics
	if stats.Rollups != 9 {
		t.Errorf("Expected 9 rollup rows, got %d", stats.Rollups)
	}
	if stats.Events != 1 {
		t.Errorf("Expected 1 event, got %d", stats.Events)
	}
}

// TestE2E_InvalidRequests tests error handling
func TestE2E_InvalidRequests(t *testing.T) {
	store := memory.New()
	defer store.Close()

	router := server.SetupRoutes(mux.NewRouter(), server.NewAPI(store, "memory", nil, nil, nil, logger.Discard()), "8080")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "wrong method for events",
			method:     "DELETE",
			path:       "/v1/alerts/events",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "invalid JSON",
			method:     "PUT",
			path:       "/v1/instances/db-1",
			body:       "{invalid json}",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown route",
			method:     "GET",
			path:       "/v1/metrics",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

// TestRun_ServesAndShutsDown starts the whole process on an ephemeral port.
func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:       config.BackendMemory,
		Port:               "0",
		SamplingInterval:   time.Second,
		RetentionDays:      1,
		StatusQueryTimeout: time.Second,
		RollupBucket:       time.Minute,
		RollupInterval:     5 * time.Second,
		AlertInterval:      time.Second,
		ShutdownTimeout:    5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, logger.Discard(), fakeDialer(&counterTarget{}), ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad listen address %q: %v", addr, err)
	}

	resp, err := http.Get("http://127.0.0.1:" + port + "/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected health 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
