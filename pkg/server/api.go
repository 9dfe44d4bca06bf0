package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/httpx"
	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

// InstanceRequest is the body of PUT /v1/instances/{id}.
type InstanceRequest struct {
	Name   string      `json:"name"`
	Kind   models.Kind `json:"kind"`
	URI    string      `json:"uri"`
	Active *bool       `json:"active"`
}

// RuleRequest is the body of POST /v1/alerts/rules.
type RuleRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Type          models.RuleType `json:"type"`
	Enabled       *bool           `json:"enabled"`
	Severity      models.Severity `json:"severity"`
	Threshold     *float64        `json:"threshold"`
	WindowSec     int             `json:"windowSec"`
	InstanceScope string          `json:"instanceScope"`
}

// EventsResponse is one page of alert events.
type EventsResponse struct {
	Items []models.AlertEvent `json:"items"`
	Total int64               `json:"total"`
}

// publicInstance masks credentials before an instance leaves the process.
func publicInstance(inst models.Instance) models.Instance {
	inst.URI = config.SanitizeURI(inst.URI)
	return inst
}

func (a *API) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := a.store.ListInstances(r.Context())
	if err != nil {
		a.log.Error("list instances failed", "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to list instances")
		return
	}

	out := make([]models.Instance, 0, len(instances))
	for _, inst := range instances {
		out = append(out, publicInstance(inst))
	}
	httpx.RespondJSON(w, http.StatusOK, out)
}

func (a *API) handlePutInstance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req InstanceRequest
	if err := httpx.DecodeJSON(w, r, config.MaxRequestBodyBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Kind.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "kind must be one of mongodb, postgres, mysql")
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "uri is required")
		return
	}

	now := a.now().UTC()
	inst := models.Instance{
		ID:        id,
		Name:      req.Name,
		Kind:      req.Kind,
		URI:       req.URI,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	existing, err := a.store.GetInstance(r.Context(), id)
	switch {
	case err == nil:
		inst.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		a.log.Error("load instance failed", "instance_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to load instance")
		return
	}

	if err := a.store.UpsertInstance(r.Context(), inst); err != nil {
		a.log.Error("save instance failed", "instance_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to save instance")
		return
	}

	a.log.Info("instance saved", "instance_id", id, "kind", inst.Kind, "active", inst.Active, "uri", config.SanitizeURI(inst.URI))
	httpx.RespondJSON(w, http.StatusOK, publicInstance(inst))
}

// requireInstance writes 404 and returns false when the instance is unknown.
func (a *API) requireInstance(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := a.store.GetInstance(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.RespondErrorString(w, http.StatusNotFound, "instance not found")
			return false
		}
		a.log.Error("load instance failed", "instance_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to load instance")
		return false
	}
	return true
}

func (a *API) handleSamples(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	now := a.now().UTC()

	start, err := httpx.QueryTime(r, "start", now.Add(-config.DefaultSampleWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	end, err := httpx.QueryTime(r, "end", now)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if end.Before(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must not be before start")
		return
	}
	limit, err := httpx.QueryInt(r, "limit", config.DefaultSamplesLimit, 1, config.MaxSamplesLimit)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if !a.requireInstance(w, r, id) {
		return
	}

	samples, err := a.store.QuerySamples(r.Context(), storage.SampleQuery{
		InstanceID: id,
		Start:      start,
		End:        end,
		IncludeEnd: true,
		Limit:      limit,
	})
	if err != nil {
		a.log.Error("query samples failed", "instance_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to query samples")
		return
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	httpx.RespondJSON(w, http.StatusOK, samples)
}

func (a *API) handleRollups(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	now := a.now().UTC()

	metric := r.URL.Query().Get("metric")
	if metric != "" && !slices.Contains(models.RollupMetrics, metric) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "unknown metric: "+metric)
		return
	}
	start, err := httpx.QueryTime(r, "start", now.Add(-config.DefaultRollupWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	end, err := httpx.QueryTime(r, "end", now)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if end.Before(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must not be before start")
		return
	}

	if !a.requireInstance(w, r, id) {
		return
	}

	rows, err := a.store.QueryRollups(r.Context(), storage.RollupQuery{
		InstanceID: id,
		Metric:     metric,
		Start:      start,
		End:        end,
	})
	if err != nil {
		a.log.Error("query rollups failed", "instance_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to query rollups")
		return
	}
	if rows == nil {
		rows = []models.RollupRow{}
	}
	httpx.RespondJSON(w, http.StatusOK, rows)
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.ListRulesForInstance(r.Context(), r.URL.Query().Get("instanceId"))
	if err != nil {
		a.log.Error("list rules failed", "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	httpx.RespondJSON(w, http.StatusOK, rules)
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := httpx.DecodeJSON(w, r, config.MaxRequestBodyBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if !req.Type.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "type must be one of high_connections, slow_operations_rate, high_ops_latency")
		return
	}
	if req.Threshold == nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "threshold is required")
		return
	}
	if req.Severity == "" {
		req.Severity = models.SeverityWarning
	}
	if !req.Severity.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "severity must be one of info, warning, critical")
		return
	}
	if req.WindowSec < 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "windowSec must not be negative")
		return
	}
	if req.WindowSec == 0 {
		req.WindowSec = models.DefaultWindowSec
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := a.now().UTC()
	rule := models.AlertRule{
		ID:            req.ID,
		Name:          req.Name,
		Type:          req.Type,
		Enabled:       req.Enabled == nil || *req.Enabled,
		Severity:      req.Severity,
		Threshold:     *req.Threshold,
		WindowSec:     req.WindowSec,
		InstanceScope: req.InstanceScope,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := a.store.SaveRule(r.Context(), rule); err != nil {
		a.log.Error("save rule failed", "rule_id", rule.ID, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	a.log.Info("alert rule saved", "rule_id", rule.ID, "type", rule.Type, "scope", rule.InstanceScope)
	httpx.RespondJSON(w, http.StatusCreated, rule)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.store.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.RespondErrorString(w, http.StatusNotFound, "rule not found")
			return
		}
		a.log.Error("delete rule failed", "rule_id", id, "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := httpx.QueryInt(r, "limit", config.DefaultEventsLimit, 1, config.MaxEventsLimit)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0, 0, config.MaxEventsOffset)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	start, err := httpx.QueryTime(r, "start", time.Time{})
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	end, err := httpx.QueryTime(r, "end", time.Time{})
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	status := models.AlertStatus(q.Get("status"))
	if status != "" && status != models.StatusOK && status != models.StatusTriggered {
		httpx.RespondErrorString(w, http.StatusBadRequest, "status must be ok or triggered")
		return
	}
	eventType := models.EventType(q.Get("eventType"))
	if eventType != "" && eventType != models.EventTriggered && eventType != models.EventResolved {
		httpx.RespondErrorString(w, http.StatusBadRequest, "eventType must be triggered or resolved")
		return
	}

	items, total, err := a.store.ListEvents(r.Context(), storage.EventFilter{
		InstanceID: q.Get("instanceId"),
		RuleID:     q.Get("ruleId"),
		Status:     status,
		EventType:  eventType,
		Start:      start,
		End:        end,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		a.log.Error("list events failed", "error", err)
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if items == nil {
		items = []models.AlertEvent{}
	}
	httpx.RespondJSON(w, http.StatusOK, EventsResponse{Items: items, Total: total})
}
