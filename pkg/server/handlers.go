package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/httpx"
	"github.com/nicktill/dbpulse/pkg/notify"
	"github.com/nicktill/dbpulse/pkg/server/monitor"
	"github.com/nicktill/dbpulse/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// API serves the read surface and the small directory/rule management endpoints.
type API struct {
	store   storage.Storage
	backend string
	loops   []*monitor.LoopMonitor
	disk    *monitor.DiskMonitor // nil unless the store is on local disk
	stream  http.Handler
	sinks   []notify.Checker
	log     *slog.Logger
	now     func() time.Time
}

// NewAPI creates the HTTP API. disk and stream may be nil.
func NewAPI(store storage.Storage, backend string, loops []*monitor.LoopMonitor, disk *monitor.DiskMonitor, stream http.Handler, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		store:   store,
		backend: backend,
		loops:   loops,
		disk:    disk,
		stream:  stream,
		log:     log.With("module", "http"),
		now:     time.Now,
	}
}

// WithSinks adds external alert sinks to the health report.
func (a *API) WithSinks(sinks ...notify.Checker) *API {
	a.sinks = append(a.sinks, sinks...)
	return a
}

// StoreHealth reports backend reachability. Never includes connection details.
type StoreHealth struct {
	Backend   string         `json:"backend"`
	Reachable bool           `json:"reachable"`
	Error     string         `json:"error,omitempty"`
	Stats     *storage.Stats `json:"stats,omitempty"`
}

// SinkHealth reports whether an alert sink can currently be reached.
type SinkHealth struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                `json:"status"`
	Version string                `json:"version"`
	Uptime  string                `json:"uptime"`
	Store   StoreHealth           `json:"store"`
	Loops   []monitor.LoopStatus  `json:"loops"`
	Sinks   []SinkHealth          `json:"sinks,omitempty"`
	Host    monitor.HostInfo      `json:"host"`
	Disk    *monitor.DiskUsage `json:"disk,omitempty"`
}

// handleHealth returns 200 while the store is reachable and 503 otherwise.
// Unhealthy loops and unreachable sinks only degrade the reported status.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StorePingTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Store:   StoreHealth{Backend: a.backend, Reachable: true},
		Loops:   make([]monitor.LoopStatus, 0, len(a.loops)),
		Host:    monitor.CollectHost(),
	}
	statusCode := http.StatusOK

	if err := a.store.Ping(ctx); err != nil {
		a.log.Warn("health check: store unreachable", "error", err)
		resp.Store.Reachable = false
		resp.Store.Error = "store unreachable"
		resp.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if stats, err := a.store.Stats(ctx); err == nil {
		resp.Store.Stats = stats
	}

	for _, lm := range a.loops {
		st := lm.Status()
		if !st.Healthy && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
		resp.Loops = append(resp.Loops, st)
	}

	for _, sink := range a.sinks {
		sh := SinkHealth{Name: sink.Name(), Reachable: true}
		if err := sink.Check(ctx); err != nil {
			a.log.Warn("health check: sink unreachable", "sink", sh.Name, "error", err)
			sh.Reachable = false
			sh.Error = "sink unreachable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
		resp.Sinks = append(resp.Sinks, sh)
	}

	if a.disk != nil {
		if usage, err := a.disk.Usage(); err == nil {
			resp.Disk = &usage
		}
	}

	httpx.RespondJSON(w, statusCode, resp)
}

// SetupRoutes configures all HTTP routes for the server and returns the
// handler to serve. CORS wraps the router so preflights never reach route
// matching.
func SetupRoutes(router *mux.Router, api *API, port string) http.Handler {
	router.Use(requestLogger(api.log))

	v1 := router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/health", api.handleHealth).Methods("GET")

	// Instance directory and telemetry
	v1.HandleFunc("/instances", api.handleListInstances).Methods("GET")
	v1.HandleFunc("/instances/{id}", api.handlePutInstance).Methods("PUT")
	v1.HandleFunc("/instances/{id}/samples", api.handleSamples).Methods("GET")
	v1.HandleFunc("/instances/{id}/rollups", api.handleRollups).Methods("GET")

	// Alerting
	v1.HandleFunc("/alerts/rules", api.handleListRules).Methods("GET")
	v1.HandleFunc("/alerts/rules", api.handleCreateRule).Methods("POST")
	v1.HandleFunc("/alerts/rules/{id}", api.handleDeleteRule).Methods("DELETE")
	v1.HandleFunc("/alerts/events", api.handleListEvents).Methods("GET")

	// WebSocket stream of alert events
	if api.stream != nil {
		v1.Handle("/ws", api.stream).Methods("GET")
	}

	return corsMiddleware(port)(router)
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Only set CORS headers for allowed origins
			if allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
