package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/tripwire/internal/bus"
	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/history"
	"github.com/opensource-finance/tripwire/internal/report"
	"github.com/opensource-finance/tripwire/internal/repository"
	"github.com/opensource-finance/tripwire/internal/rules"
)

var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "tripwire-worker-*.db")
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
	return repo
}

func newTestPipeline(t *testing.T, repo domain.Repository) *Pipeline {
	t.Helper()
	distances := geo.NewTable([]domain.CityDistance{{From: "Beijing", To: "Shanghai", Km: 1068}})
	engine, err := rules.NewEngine(distances, domain.EngineConfig{MaxWorkers: 4}, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.Register(rules.Builtin()...); err != nil {
		t.Fatalf("failed to register rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	var hist *history.Service
	if repo != nil {
		hist = history.NewService(repo, 3)
	}
	return NewPipeline(engine, hist, report.NewProcessor(), repo)
}

// doubleBooked is two overlapping nights in different cities.
func doubleBooked(user string) []domain.Event {
	in := monday.Add(15 * time.Hour)
	out := monday.Add(24*time.Hour + 11*time.Hour)
	return []domain.Event{
		{
			ID:       user + "-h1",
			UserID:   user,
			Kind:     domain.KindHotel,
			Location: &domain.Location{City: "Shanghai"},
			Window:   domain.ExactWindow(in, out),
			Amount:   420,
			Hotel:    &domain.HotelDetails{HotelName: "Bund Hotel"},
		},
		{
			ID:       user + "-h2",
			UserID:   user,
			Kind:     domain.KindHotel,
			Location: &domain.Location{City: "Beijing"},
			Window:   domain.ExactWindow(in.Add(time.Hour), out),
			Amount:   380,
			Hotel:    &domain.HotelDetails{HotelName: "Capital Inn"},
		},
	}
}

func TestPipelineEvaluate(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)
	ctx := context.Background()

	rep, err := p.Evaluate(ctx, "tenant-001", "trace-001", doubleBooked("u1"))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rep.Status != domain.StatusAlert {
		t.Errorf("expected ALRT, got %s (score %.2f)", rep.Status, rep.Score)
	}
	if rep.Metadata.TraceID != "trace-001" {
		t.Errorf("trace id = %q", rep.Metadata.TraceID)
	}

	found := false
	for _, f := range rep.Findings {
		if f.RuleID == "FD-MULTI-HOTEL-SAME-NIGHT" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a multi-hotel finding, got %+v", rep.Findings)
	}

	saved, err := repo.GetReport(ctx, "tenant-001", rep.ID)
	if err != nil {
		t.Fatalf("report not saved: %v", err)
	}
	if saved.Status != rep.Status || len(saved.Findings) != len(rep.Findings) {
		t.Errorf("saved report differs: %+v", saved)
	}

	alerts := p.Alerts(rep)
	if len(alerts) != len(rep.Findings) {
		t.Errorf("expected one alert per finding, got %d for %d", len(alerts), len(rep.Findings))
	}
}

func TestPipelineInline(t *testing.T) {
	p := newTestPipeline(t, nil)

	rep, err := p.Evaluate(context.Background(), "tenant-001", "", nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if rep.Status != domain.StatusNoAlert || len(rep.Findings) != 0 {
		t.Errorf("empty batch should not alert: %+v", rep)
	}

	if _, err := p.Scan(context.Background(), domain.ScanRequest{TenantID: "tenant-001"}); err == nil {
		t.Error("expected scan to fail without history")
	}
}

func TestPipelineScanTrimsToRange(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)
	ctx := context.Background()

	if _, err := repo.SaveEvents(ctx, "tenant-001", doubleBooked("u1")); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	t.Run("Covering", func(t *testing.T) {
		rep, err := p.Scan(ctx, domain.ScanRequest{
			TenantID: "tenant-001",
			UserID:   "u1",
			Since:    monday,
			Until:    monday.AddDate(0, 0, 2),
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(rep.Findings) == 0 {
			t.Error("expected findings inside the range")
		}
	})

	t.Run("Later", func(t *testing.T) {
		// The stays are inside the lookback, so they are loaded as context
		// but their findings fall outside the range.
		rep, err := p.Scan(ctx, domain.ScanRequest{
			TenantID: "tenant-001",
			UserID:   "u1",
			Since:    monday.AddDate(0, 0, 3),
			Until:    monday.AddDate(0, 0, 4),
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(rep.Findings) != 0 {
			t.Errorf("expected no findings, got %+v", rep.Findings)
		}
		if rep.Metadata.EventsEvaluated != 2 {
			t.Errorf("expected lookback to load 2 events, got %d", rep.Metadata.EventsEvaluated)
		}
	})
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	pipeline := newTestPipeline(t, repo)
	ctx := context.Background()

	if _, err := repo.SaveEvents(ctx, "tenant-test", doubleBooked("u1")); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicScanRequested {
			t.Errorf("unexpected topic %q", stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessScan", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		reports := make(chan domain.Report, 1)
		alerts := make(chan domain.Alert, 10)
		eventBus.Subscribe(ctx, "tenant-test", domain.TopicReport, func(ctx context.Context, msg *domain.Message) error {
			rep, err := bus.Decode[domain.Report](msg)
			if err != nil {
				return err
			}
			reports <- rep
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-test", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			a, err := bus.Decode[domain.Alert](msg)
			if err != nil {
				return err
			}
			alerts <- a
			return nil
		})

		err := Submit(ctx, eventBus, domain.ScanRequest{
			TenantID: "tenant-test",
			UserID:   "u1",
			Since:    monday,
			Until:    monday.AddDate(0, 0, 2),
			TraceID:  "trace-001",
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		var rep domain.Report
		select {
		case rep = <-reports:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for report")
		}
		if rep.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got %q", rep.TenantID)
		}
		if rep.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got %q", rep.Metadata.TraceID)
		}
		if rep.Status != domain.StatusAlert {
			t.Errorf("expected ALRT, got %s", rep.Status)
		}

		select {
		case a := <-alerts:
			if a.ReportID != rep.ID {
				t.Errorf("alert references report %q, want %q", a.ReportID, rep.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for alert")
		}

		if _, err := repo.GetReport(ctx, "tenant-test", rep.ID); err != nil {
			t.Errorf("report not persisted: %v", err)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		local := bus.NewChannelBus(10)
		defer local.Close()

		w := NewWorker(local, pipeline)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		rep, err := Request(reqCtx, local, domain.ScanRequest{
			TenantID: "tenant-test",
			UserID:   "u1",
			Since:    monday,
			Until:    monday.AddDate(0, 0, 2),
		})
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if rep.Status != domain.StatusAlert || rep.TenantID != "tenant-test" {
			t.Errorf("reply = %s for %q, want ALRT for tenant-test", rep.Status, rep.TenantID)
		}

		if _, err := Request(ctx, local, domain.ScanRequest{}); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("TenantFilter", func(t *testing.T) {
		local := bus.NewChannelBus(10)
		defer local.Close()

		w := NewWorker(local, pipeline)
		if err := w.Start(Config{TenantIDs: []string{"tenant-other"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		reports := make(chan struct{}, 1)
		local.Subscribe(ctx, "tenant-test", domain.TopicReport, func(ctx context.Context, msg *domain.Message) error {
			reports <- struct{}{}
			return nil
		})

		Submit(ctx, local, domain.ScanRequest{TenantID: "tenant-test"})

		select {
		case <-reports:
			t.Error("worker should ignore tenants it does not serve")
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("BadPayload", func(t *testing.T) {
		w := NewWorker(eventBus, pipeline)
		err := w.handleScan(ctx, &domain.Message{ID: "m1", Topic: domain.TopicScanRequested, Payload: []byte("not json")})
		if err == nil {
			t.Error("expected error for malformed scan request")
		}
	})

	t.Run("SubmitRequiresTenant", func(t *testing.T) {
		if err := Submit(ctx, eventBus, domain.ScanRequest{}); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}
