// Package worker runs scan requests received from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/tripwire/internal/bus"
	"github.com/opensource-finance/tripwire/internal/domain"
)

// RoutingTenant is the bus tenant scan requests are published under. The
// real tenant travels in the request, so one subscription serves every
// tenant on buses without subject wildcards.
const RoutingTenant = "_scan"

// Worker consumes scan requests, runs the pipeline, and publishes the
// report and its alerts under the request's tenant.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	mu            sync.Mutex
	subscriptions []domain.Subscription
	tenants       map[string]struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs restricts the tenants this worker scans. Empty means all.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, pipeline *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit queues a scan request for the worker.
func Submit(ctx context.Context, b domain.EventBus, req domain.ScanRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return bus.PublishJSON(ctx, b, RoutingTenant, domain.TopicScanRequested, req)
}

// Request submits a scan and waits for a worker to answer with the report.
func Request(ctx context.Context, b domain.EventBus, req domain.ScanRequest) (*domain.Report, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan request: %w", err)
	}
	reply, err := b.Request(ctx, RoutingTenant, domain.TopicScanRequested, payload)
	if err != nil {
		return nil, err
	}
	var rep domain.Report
	if err := json.Unmarshal(reply, &rep); err != nil {
		return nil, fmt.Errorf("failed to decode scan reply: %w", err)
	}
	return &rep, nil
}

// Start subscribes to scan requests.
func (w *Worker) Start(cfg Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(cfg.TenantIDs) > 0 {
		w.tenants = make(map[string]struct{}, len(cfg.TenantIDs))
		for _, id := range cfg.TenantIDs {
			w.tenants[id] = struct{}{}
		}
	}

	sub, err := w.bus.Subscribe(w.ctx, RoutingTenant, domain.TopicScanRequested, w.handleScan)
	if err != nil {
		return fmt.Errorf("failed to subscribe to scan requests: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicScanRequested,
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) accepts(tenantID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tenants == nil {
		return true
	}
	_, ok := w.tenants[tenantID]
	return ok
}

func (w *Worker) handleScan(ctx context.Context, msg *domain.Message) error {
	req, err := bus.Decode[domain.ScanRequest](msg)
	if err != nil {
		return err
	}
	if !w.accepts(req.TenantID) {
		slog.Debug("scan request for another tenant ignored", "tenant_id", req.TenantID)
		return nil
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}
	rep, err := w.process(ctx, req)
	if err != nil {
		return err
	}
	return bus.ReplyJSON(ctx, w.bus, msg, rep)
}

func (w *Worker) process(ctx context.Context, req domain.ScanRequest) (*domain.Report, error) {
	start := time.Now()

	slog.Debug("processing scan",
		"tenant_id", req.TenantID,
		"user_id", req.UserID,
		"trace_id", req.TraceID,
	)

	rep, err := w.pipeline.Scan(ctx, req)
	if err != nil {
		if rep == nil {
			return nil, fmt.Errorf("scan %s failed: %w", req.TraceID, err)
		}
		// Report computed but not saved; still publish it.
		slog.Error("failed to save report",
			"tenant_id", req.TenantID,
			"trace_id", req.TraceID,
			"error", err,
		)
	}

	if err := bus.PublishJSON(ctx, w.bus, req.TenantID, domain.TopicReport, rep); err != nil {
		slog.Error("failed to publish report",
			"tenant_id", req.TenantID,
			"report_id", rep.ID,
			"error", err,
		)
	}

	alerts := w.pipeline.Alerts(rep)
	for _, a := range alerts {
		if err := bus.PublishJSON(ctx, w.bus, req.TenantID, domain.TopicAlert, a); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", req.TenantID,
				"report_id", rep.ID,
				"rule_id", a.Finding.RuleID,
				"error", err,
			)
		}
	}

	slog.Info("scan processed",
		"tenant_id", req.TenantID,
		"user_id", req.UserID,
		"trace_id", req.TraceID,
		"report_id", rep.ID,
		"status", rep.Status,
		"score", rep.Score,
		"findings", len(rep.Findings),
		"alerts", len(alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
