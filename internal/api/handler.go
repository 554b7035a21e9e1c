package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/tripwire/internal/bus"
	"github.com/opensource-finance/tripwire/internal/cache"
	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
	"github.com/opensource-finance/tripwire/internal/repository"
	"github.com/opensource-finance/tripwire/internal/rules"
	"github.com/opensource-finance/tripwire/internal/worker"
)

// GlobalTenantID is used for expression rules that apply to all tenants.
const GlobalTenantID = "*"

// reportCacheTTL bounds how long a fetched report stays in the cache.
// Reports are immutable, so this only limits memory.
const reportCacheTTL = 10 * time.Minute

// maxBatch caps the events accepted by one request.
const maxBatch = 10000

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *worker.Pipeline
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil;
// endpoints that need them answer 503.
func NewHandler(repo domain.Repository, c domain.Cache, b domain.EventBus, pipeline *worker.Pipeline, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    c,
		bus:      b,
		pipeline: pipeline,
		engine:   pipeline.Engine(),
		version:  version,
	}
}

// EventsRequest is the request body for POST /events and POST /evaluate.
type EventsRequest struct {
	Events []domain.Event `json:"events"`
}

// IngestResponse is the response for POST /events.
type IngestResponse struct {
	Received   int `json:"received"`
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
}

// ReportResponse is the response for POST /evaluate and POST /scan.
type ReportResponse struct {
	Report *domain.Report `json:"report"`
	Alerts []domain.Alert `json:"alerts,omitempty"`
	Meta   ResponseMeta   `json:"meta"`
}

// ResponseMeta carries request-level information.
type ResponseMeta struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ScanRequest is the request body for POST /scan.
type ScanRequest struct {
	UserID string    `json:"userId,omitempty"`
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until"`
}

func (h *Handler) decodeEvents(w http.ResponseWriter, r *http.Request) ([]domain.Event, bool) {
	var req EventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "events are required")
		return nil, false
	}
	if len(req.Events) > maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d events per request", maxBatch))
		return nil, false
	}
	for i := range req.Events {
		if err := req.Events[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("events[%d]: %v", i, err))
			return nil, false
		}
	}
	return req.Events, true
}

// IngestEvents handles POST /events.
func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	events, ok := h.decodeEvents(w, r)
	if !ok {
		return
	}

	stored, err := h.repo.SaveEvents(ctx, tenantID, events)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to save events", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save events")
		return
	}

	metrics.EventsIngested.Add(float64(stored))

	if h.bus != nil && stored > 0 {
		notice := map[string]any{"stored": stored, "traceId": GetTraceID(ctx)}
		if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicEventsIngested, notice); err != nil {
			slog.Warn("failed to publish ingest notice", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		Received:   len(events),
		Stored:     stored,
		Duplicates: len(events) - stored,
	})
}

// GetEvent retrieves a stored event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	eventID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	ev, err := h.repo.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		h.writeLookupError(w, "event", eventID, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Evaluate handles POST /evaluate: the posted batch is evaluated as is and
// not stored.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	events, ok := h.decodeEvents(w, r)
	if !ok {
		return
	}
	for i := range events {
		events[i].TenantID = tenantID
		events[i].Normalize()
	}

	rep, err := h.pipeline.Evaluate(ctx, tenantID, traceID, events)
	if err != nil {
		// The report is still valid when only persistence failed.
		slog.Error("failed to save report", "tenant_id", tenantID, "trace_id", traceID, "error", err)
	}
	h.writeReport(w, rep, traceID, start)
}

// Scan handles POST /scan. With ?async=true the request is queued for the
// worker and answered with 202.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if !body.Since.IsZero() && !body.Until.IsZero() && body.Until.Before(body.Since) {
		writeError(w, http.StatusBadRequest, "until must not be before since")
		return
	}
	req := domain.ScanRequest{
		TenantID: tenantID,
		UserID:   body.UserID,
		Since:    body.Since,
		Until:    body.Until,
		TraceID:  traceID,
	}

	if r.URL.Query().Get("async") == "true" {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		if err := worker.Submit(ctx, h.bus, req); err != nil {
			slog.Error("failed to queue scan", "tenant_id", tenantID, "trace_id", traceID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue scan")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "queued",
			"traceId": traceID,
		})
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	rep, err := h.pipeline.Scan(ctx, req)
	if err != nil {
		if rep == nil {
			slog.Error("scan failed", "tenant_id", tenantID, "trace_id", traceID, "error", err)
			writeError(w, http.StatusInternalServerError, "scan failed")
			return
		}
		slog.Error("failed to save report", "tenant_id", tenantID, "trace_id", traceID, "error", err)
	}
	h.writeReport(w, rep, traceID, start)
}

func (h *Handler) writeReport(w http.ResponseWriter, rep *domain.Report, traceID string, start time.Time) {
	writeJSON(w, http.StatusOK, ReportResponse{
		Report: rep,
		Alerts: h.pipeline.Alerts(rep),
		Meta: ResponseMeta{
			TraceID: traceID,
			TotalMs: time.Since(start).Milliseconds(),
			Version: h.version,
		},
	})
}

// GetReport retrieves a report by ID, through the cache when one is
// configured.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")
	key := "report:" + reportID

	if h.cache != nil {
		rep, found, err := cache.GetJSON[domain.Report](ctx, h.cache, tenantID, key)
		if err != nil {
			slog.Warn("report cache read failed", "tenant_id", tenantID, "report_id", reportID, "error", err)
		}
		if found {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rep, err := h.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		h.writeLookupError(w, "report", reportID, err)
		return
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, tenantID, key, rep, reportCacheTTL); err != nil {
			slog.Warn("report cache write failed", "tenant_id", tenantID, "report_id", reportID, "error", err)
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, rep)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the server can take traffic: rules are loaded and
// the configured backends answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := h.engine.RulesCount() > 0
	if !ready {
		checks["rules"] = "no rules loaded"
	}
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			ready = false
			checks["repository"] = err.Error()
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			ready = false
			checks["eventBus"] = err.Error()
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"rules":  h.engine.RulesCount(),
		"checks": checks,
	})
}

// ListRules returns every runnable rule: builtin rules first, then
// expression rules by ID.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	all := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": all,
		"count": len(all),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, err := h.engine.Rule(ruleID)
	if err != nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating an expression rule.
type CreateRuleRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	EventKinds  []domain.EventKind `json:"eventKinds,omitempty"`
	Severity    domain.Severity    `json:"severity,omitempty"`
	Enabled     bool               `json:"enabled"`
}

// CreateRule validates an expression rule and saves it globally. Call
// POST /rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	switch req.Severity {
	case "", domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", req.Severity))
		return
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		EventKinds:  req.EventKinds,
		Severity:    req.Severity,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, cfg); err != nil {
		slog.Error("failed to save rule config", "rule_id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "rule_id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules replaces the engine's expression rules with the stored ones.
// On error the running set is unchanged.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	n, err := LoadRules(r.Context(), h.repo, h.engine)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

// DeleteRule disables a stored expression rule. Like CreateRule it takes
// effect on the next reload. Registered Go rules cannot be deleted.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if rule, err := h.engine.Rule(ruleID); err == nil && rule.Source != rules.SourceExpression {
		writeError(w, http.StatusBadRequest, "rule "+ruleID+" is not an expression rule")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.DeleteRuleConfig(r.Context(), GlobalTenantID, ruleID); err != nil {
		h.writeLookupError(w, "rule", ruleID, err)
		return
	}

	slog.Info("rule deleted", "rule_id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      ruleID,
		"message": "Rule deleted. Call POST /rules/reload to apply changes.",
	})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("lookup failed", "kind", what, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
