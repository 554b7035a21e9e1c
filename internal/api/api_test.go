package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/tripwire/internal/bus"
	"github.com/opensource-finance/tripwire/internal/cache"
	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/history"
	"github.com/opensource-finance/tripwire/internal/report"
	"github.com/opensource-finance/tripwire/internal/repository"
	"github.com/opensource-finance/tripwire/internal/rules"
	"github.com/opensource-finance/tripwire/internal/worker"
)

var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

// createTestServer wires a server over a temp-file SQLite repository, an
// in-process cache and a channel bus, running the builtin rules.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tripwire-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	distances := geo.NewTable([]domain.CityDistance{{From: "Beijing", To: "Shanghai", Km: 1068}})
	engine, err := rules.NewEngine(distances, domain.EngineConfig{MaxWorkers: 4}, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.Register(rules.Builtin()...); err != nil {
		t.Fatalf("failed to register rules: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	pipeline := worker.NewPipeline(engine, history.NewService(repo, 3), report.NewProcessor(), repo)
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, repo, cache.NewLRUCache(100), eventBus, pipeline, "test-v1")
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func doubleBooked() []domain.Event {
	in := monday.Add(15 * time.Hour)
	out := monday.Add(35 * time.Hour)
	return []domain.Event{
		{
			ID:       "h1",
			UserID:   "u1",
			Kind:     domain.KindHotel,
			Location: &domain.Location{City: "Shanghai"},
			Window:   domain.ExactWindow(in, out),
			Amount:   420,
			Hotel:    &domain.HotelDetails{HotelName: "Bund Hotel"},
		},
		{
			ID:       "h2",
			UserID:   "u1",
			Kind:     domain.KindHotel,
			Location: &domain.Location{City: "Beijing"},
			Window:   domain.ExactWindow(in.Add(time.Hour), out),
			Amount:   380,
			Hotel:    &domain.HotelDetails{HotelName: "Capital Inn"},
		},
	}
}

func honestDay() []domain.Event {
	return []domain.Event{{
		ID:       "c1",
		UserID:   "u2",
		Kind:     domain.KindCheckIn,
		Location: &domain.Location{City: "Shanghai"},
		Window:   domain.ExactWindow(monday.Add(9*time.Hour), monday.Add(9*time.Hour+10*time.Minute)),
	}}
}

func TestEventsEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Ingest", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/events", EventsRequest{Events: doubleBooked()})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp IngestResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Received != 2 || resp.Stored != 2 || resp.Duplicates != 0 {
			t.Errorf("unexpected ingest response %+v", resp)
		}
	})

	t.Run("IngestIsIdempotent", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/events", EventsRequest{Events: doubleBooked()})
		var resp IngestResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Stored != 0 || resp.Duplicates != 2 {
			t.Errorf("expected duplicates on re-ingest, got %+v", resp)
		}
	})

	t.Run("GetEvent", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/events/h1", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var ev domain.Event
		json.Unmarshal(rr.Body.Bytes(), &ev)
		if ev.ID != "h1" || ev.Hotel == nil || ev.Hotel.HotelName != "Bund Hotel" {
			t.Errorf("unexpected event %+v", ev)
		}
	})

	t.Run("GetEventNotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/events/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/events", EventsRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidEvent", func(t *testing.T) {
		bad := doubleBooked()
		bad[1].UserID = ""
		rr := do(t, server, http.MethodPost, "/events", EventsRequest{Events: bad})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Alerting", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: doubleBooked()})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ReportResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Report == nil || resp.Report.ID == "" {
			t.Fatal("expected a report with an id")
		}
		if resp.Report.Status != domain.StatusAlert {
			t.Errorf("expected status ALRT, got %s", resp.Report.Status)
		}
		if len(resp.Alerts) == 0 {
			t.Error("expected alerts for an alerting report")
		}
		if resp.Meta.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Meta.Version)
		}
		if resp.Meta.TraceID == "" || resp.Report.Metadata.TraceID != resp.Meta.TraceID {
			t.Errorf("trace id not carried into report: %q vs %q", resp.Meta.TraceID, resp.Report.Metadata.TraceID)
		}
	})

	t.Run("Clean", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: honestDay()})
		var resp ReportResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Report.Status != domain.StatusNoAlert {
			t.Errorf("expected status NALT, got %s", resp.Report.Status)
		}
		if len(resp.Alerts) != 0 {
			t.Errorf("expected no alerts, got %d", len(resp.Alerts))
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("{}"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownKind", func(t *testing.T) {
		evs := honestDay()
		evs[0].Kind = "boat"
		rr := do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: evs})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: honestDay()})
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestScanEndpoint(t *testing.T) {
	server := createTestServer(t)
	if rr := do(t, server, http.MethodPost, "/events", EventsRequest{Events: doubleBooked()}); rr.Code != http.StatusCreated {
		t.Fatalf("ingest failed: %d", rr.Code)
	}

	t.Run("Sync", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/scan", ScanRequest{UserID: "u1", Since: monday, Until: monday.AddDate(0, 0, 2)})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ReportResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Report.Status != domain.StatusAlert {
			t.Errorf("expected ALRT, got %s", resp.Report.Status)
		}
		if resp.Report.Metadata.EventsEvaluated != 2 {
			t.Errorf("expected 2 events evaluated, got %d", resp.Report.Metadata.EventsEvaluated)
		}
	})

	t.Run("Async", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/scan?async=true", ScanRequest{UserID: "u1"})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "queued" || resp["traceId"] == "" {
			t.Errorf("unexpected response %v", resp)
		}
	})

	t.Run("ReversedRange", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/scan", ScanRequest{Since: monday.AddDate(0, 0, 1), Until: monday})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestReportEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: doubleBooked()})
	var created ReportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	t.Run("Miss", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/reports/"+created.Report.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if rr.Header().Get("X-Cache") != "MISS" {
			t.Errorf("expected cache miss, got %q", rr.Header().Get("X-Cache"))
		}
		var rep domain.Report
		json.Unmarshal(rr.Body.Bytes(), &rep)
		if rep.ID != created.Report.ID || rep.Status != created.Report.Status {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("Hit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/reports/"+created.Report.ID, nil)
		if rr.Header().Get("X-Cache") != "HIT" {
			t.Errorf("expected cache hit, got %q", rr.Header().Get("X-Cache"))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/reports/does-not-exist", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRulesEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(rules.Builtin()) {
			t.Errorf("expected %d rules, got %d", len(rules.Builtin()), resp.Count)
		}
	})

	t.Run("GetBuiltin", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules/FD-MULTI-HOTEL-SAME-NIGHT", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/rules/NOPE", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "X-1", Name: "bad", Expression: "amount +", Enabled: true})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateNonBool", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "X-2", Name: "num", Expression: "amount * 2.0", Enabled: true})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "X-BIG-HOTEL",
			Name:       "Expensive hotel",
			Expression: "amount > 400.0",
			EventKinds: []domain.EventKind{domain.KindHotel},
			Severity:   domain.SeverityLow,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		// Not applied until reload.
		if rr := do(t, server, http.MethodGet, "/rules/X-BIG-HOTEL", nil); rr.Code != http.StatusNotFound {
			t.Errorf("rule should not be live before reload, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodPost, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr := do(t, server, http.MethodGet, "/rules/X-BIG-HOTEL", nil); rr.Code != http.StatusOK {
			t.Errorf("rule should be live after reload, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodPost, "/evaluate", EventsRequest{Events: doubleBooked()})
		var resp ReportResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		hits := 0
		for _, f := range resp.Report.Findings {
			if f.RuleID == "X-BIG-HOTEL" {
				hits++
			}
		}
		if hits != 1 {
			t.Errorf("expected one expression finding, got %d", hits)
		}
	})

	t.Run("CollidesWithBuiltin", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "FD-TAXI-HIGH-VALUE", Name: "dup", Expression: "true", Enabled: true})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if !bytes.Contains(rr.Body.Bytes(), []byte("tripwire_")) {
			t.Error("expected tripwire collectors in metrics output")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("TracingMiddlewareKeepsRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
			t.Errorf("expected X-Request-ID 'req-42', got %q", got)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("TenantMiddlewareRejectsReserved", func(t *testing.T) {
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be reached")
		}))
		for _, tenant := range []string{"*", "_scan", "a b", "acme.eu", strings.Repeat("x", 65)} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Tenant-ID", tenant)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected status 400, got %d", tenant, rr.Code)
			}
		}
	})

	t.Run("BodyLimit", func(t *testing.T) {
		handler := BodyLimitMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("CORS", func(t *testing.T) {
		handler := CORSMiddleware([]string{"https://audit.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodOptions, "/events", nil)
		req.Header.Set("Origin", "https://audit.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected preflight status 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://audit.example.com" {
			t.Errorf("unexpected allow origin %q", got)
		}

		req = httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr = httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("unlisted origin should get no CORS headers, got %q", got)
		}
	})
}

func TestDeleteRule(t *testing.T) {
	server := createTestServer(t)

	rr := do(t, server, http.MethodPost, "/rules", CreateRuleRequest{
		ID:         "X-ANY-TAXI",
		Name:       "Any taxi",
		Expression: "amount > 0.0",
		EventKinds: []domain.EventKind{domain.KindTaxi},
		Enabled:    true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	do(t, server, http.MethodPost, "/rules/reload", nil)

	t.Run("Builtin", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/rules/FD-TAXI-HIGH-VALUE", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Expression", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/rules/X-ANY-TAXI", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		do(t, server, http.MethodPost, "/rules/reload", nil)
		if rr := do(t, server, http.MethodGet, "/rules/X-ANY-TAXI", nil); rr.Code != http.StatusNotFound {
			t.Errorf("rule should be gone after reload, got %d", rr.Code)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/rules/NOPE", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}
