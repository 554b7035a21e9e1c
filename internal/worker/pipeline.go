package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/history"
	"github.com/opensource-finance/tripwire/internal/report"
	"github.com/opensource-finance/tripwire/internal/rules"
)

// Pipeline is the evaluation path shared by the worker, the HTTP API and
// the offline CLI: events in, scored report out.
type Pipeline struct {
	engine    *rules.Engine
	history   *history.Service
	processor *report.Processor
	repo      domain.Repository
}

// NewPipeline creates a pipeline. hist and repo may be nil for inline
// evaluation only; Scan then fails and reports are not persisted.
func NewPipeline(engine *rules.Engine, hist *history.Service, processor *report.Processor, repo domain.Repository) *Pipeline {
	if processor == nil {
		processor = report.NewProcessor()
	}
	return &Pipeline{
		engine:    engine,
		history:   hist,
		processor: processor,
		repo:      repo,
	}
}

// Engine returns the rule engine.
func (p *Pipeline) Engine() *rules.Engine {
	return p.engine
}

// Evaluate runs every enabled rule over events and builds the report. The
// report is saved when a repository is configured.
func (p *Pipeline) Evaluate(ctx context.Context, tenantID, traceID string, events []domain.Event) (*domain.Report, error) {
	start := time.Now()
	res := p.engine.EvaluateAll(ctx, events, nil)
	return p.finish(ctx, tenantID, traceID, res, start)
}

// Scan evaluates a tenant's stored events for the requested range. Events
// outside the range are loaded as context, but only findings whose primary
// event intersects the range are reported.
func (p *Pipeline) Scan(ctx context.Context, req domain.ScanRequest) (*domain.Report, error) {
	if p.history == nil {
		return nil, fmt.Errorf("scan requires a history service")
	}
	start := time.Now()

	events, err := p.history.Load(ctx, req)
	if err != nil {
		return nil, err
	}

	res := p.engine.EvaluateAll(ctx, events, nil)
	res.Findings = history.InRange(res.Findings, events, req)
	return p.finish(ctx, req.TenantID, req.TraceID, res, start)
}

func (p *Pipeline) finish(ctx context.Context, tenantID, traceID string, res *rules.Result, start time.Time) (*domain.Report, error) {
	rep := p.processor.Process(ctx, &report.Input{
		TenantID:  tenantID,
		TraceID:   traceID,
		Result:    res,
		StartTime: start,
	})

	if p.repo != nil {
		if err := p.repo.SaveReport(ctx, tenantID, rep); err != nil {
			return rep, fmt.Errorf("failed to save report: %w", err)
		}
	}

	for _, f := range res.Failures {
		slog.Warn("rule failed during evaluation",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"rule_id", f.RuleID,
			"error", f.Error,
		)
	}
	return rep, nil
}

// Alerts builds the alerts for rep using the engine's rule catalog.
func (p *Pipeline) Alerts(rep *domain.Report) []domain.Alert {
	return report.Alerts(rep, p.engine.Rule)
}
